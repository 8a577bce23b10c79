package ctxswitch

import "unsafe"

// Field offsets into Context, computed once from the real struct layout so
// that asm_amd64.s's hand-written constants and trampoline.go's
// golang-asm-generated constants can each be checked against the same
// source of truth in tests, instead of three independently hand-counted
// copies silently drifting apart.
var (
	offsetRbx          = int64(unsafe.Offsetof(Context{}.Rbx))
	offsetRbp          = int64(unsafe.Offsetof(Context{}.Rbp))
	offsetR12          = int64(unsafe.Offsetof(Context{}.R12))
	offsetR13          = int64(unsafe.Offsetof(Context{}.R13))
	offsetR14          = int64(unsafe.Offsetof(Context{}.R14))
	offsetR15          = int64(unsafe.Offsetof(Context{}.R15))
	offsetRsp          = int64(unsafe.Offsetof(Context{}.Rsp))
	offsetXmm6         = int64(unsafe.Offsetof(Context{}.Xmm6))
	offsetXmm7         = int64(unsafe.Offsetof(Context{}.Xmm7))
	offsetXmm8         = int64(unsafe.Offsetof(Context{}.Xmm8))
	offsetXmm9         = int64(unsafe.Offsetof(Context{}.Xmm9))
	offsetXmm10        = int64(unsafe.Offsetof(Context{}.Xmm10))
	offsetXmm11        = int64(unsafe.Offsetof(Context{}.Xmm11))
	offsetXmm12        = int64(unsafe.Offsetof(Context{}.Xmm12))
	offsetXmm13        = int64(unsafe.Offsetof(Context{}.Xmm13))
	offsetXmm14        = int64(unsafe.Offsetof(Context{}.Xmm14))
	offsetXmm15        = int64(unsafe.Offsetof(Context{}.Xmm15))
	offsetRetvalGP     = int64(unsafe.Offsetof(Context{}.RetvalGP))
	offsetRetvalFP     = int64(unsafe.Offsetof(Context{}.RetvalFP))
	offsetParentCtx    = int64(unsafe.Offsetof(Context{}.ParentCtx))
	offsetBackstop     = int64(unsafe.Offsetof(Context{}.Backstop))
	offsetBackstopData = int64(unsafe.Offsetof(Context{}.BackstopData))
)
