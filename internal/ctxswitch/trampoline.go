//go:build linux && amd64

package ctxswitch

import (
	"sync"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/aotwasm/sandboxrt/internal/platform"
)

// The bootstrap and backstop thunks are generated once, at first use, as a
// single executable page shared by every Context in the process — their
// code never depends on which Context or fptr is involved, only on the
// fixed stack/struct layout Init and asm_amd64.s already commit to.
// Building them with golang-asm rather than a second .s file keeps the
// encoding programmatic and lets it be driven off the offset variables in
// offsets.go, instead of a hand-counted copy that can silently drift out of
// sync.
var (
	trampolineOnce sync.Once
	trampolineCode []byte
	bootstrapAddr  uintptr
	backstopAddr   uintptr
	trampolineErr  error
)

func ensureTrampoline() error {
	trampolineOnce.Do(func() {
		b, err := goasm.NewBuilder("amd64", 64)
		if err != nil {
			trampolineErr = err
			return
		}

		bootstrapStart := emitBootstrap(b)
		backstopStart := emitBackstop(b)

		code := b.Assemble()
		mapped, err := platform.MmapCodeSegment(code, len(code))
		if err != nil {
			trampolineErr = err
			return
		}
		trampolineCode = mapped
		bootstrapAddr = memAddr(mapped, uint64(bootstrapStart.Pc))
		backstopAddr = memAddr(mapped, uint64(backstopStart.Pc))
	})
	return trampolineErr
}

// emitBootstrap builds:
//
//	MOVQ 0(SP), DI
//	MOVQ 8(SP), SI
//	MOVQ 16(SP), DX
//	MOVQ 24(SP), CX
//	MOVQ 32(SP), R8
//	MOVQ 40(SP), R9
//	ADDQ $48, SP
//	RET
//
// Landing here means SP points at the block of 6 spilled GP argument words
// Init wrote below the bootstrap return address; ADDQ skips them so the
// trailing RET jumps to fptr with SP then pointing at the backstop
// address, forming fptr's implicit return address.
func emitBootstrap(b *goasm.Builder) *obj.Prog {
	argRegs := []int16{x86.REG_DI, x86.REG_SI, x86.REG_DX, x86.REG_CX, x86.REG_R8, x86.REG_R9}
	var first *obj.Prog
	for i, reg := range argRegs {
		p := b.NewProg()
		p.As = x86.AMOVQ
		p.From.Type = obj.TYPE_MEM
		p.From.Reg = x86.REG_SP
		p.From.Offset = int64(i * 8)
		p.To.Type = obj.TYPE_REG
		p.To.Reg = reg
		b.AddInstruction(p)
		if i == 0 {
			first = p
		}
	}

	add := b.NewProg()
	add.As = x86.AADDQ
	add.From.Type = obj.TYPE_CONST
	add.From.Offset = int64(len(argRegs) * 8)
	add.To.Type = obj.TYPE_REG
	add.To.Reg = x86.REG_SP
	b.AddInstruction(add)

	ret := b.NewProg()
	ret.As = obj.ARET
	b.AddInstruction(ret)

	return first
}

// emitBackstop builds the thunk fptr returns into:
//
//	MOVQ BP, DX                 ; DX = &child Context (self-pointer from Init)
//	MOVQ AX, RetvalGP(DX)       ; stash fptr's return values in the child
//	MOVQ X0, RetvalFP(DX)
//	MOVQ Backstop(DX), BX       ; raw native callback, or 0
//	CMPQ BX, $0
//	JEQ  noCallback
//	MOVQ BackstopData(DX), DI
//	CALL BX
//	MOVQ BP, DX                 ; BP is callee-saved; DX may not be
//	noCallback:
//	MOVQ RetvalGP(DX), AX
//	MOVQ RetvalFP(DX), X0
//	MOVQ ParentCtx(DX), CX
//	MOVQ AX, RetvalGP(CX)
//	MOVQ X0, RetvalFP(CX)
//	<restore CX's callee-saved registers, same list as set, then RET>
//
// AX and X0 hold fptr's integer and floating-point return values per the
// System V ABI. They are stashed in the child's scratch slots before the
// optional callback (which may clobber AX, X0 and DX) and then written into
// the *parent's* scratch slots, per the context-switching engine's
// contract. Backstop is a raw
// native function pointer rather than a Go closure: this thunk is still
// running on the guest's stack, which the Go scheduler knows nothing
// about, so nothing here may call back into Go.
func emitBackstop(b *goasm.Builder) *obj.Prog {
	movSelf := b.NewProg()
	movSelf.As = x86.AMOVQ
	movSelf.From.Type = obj.TYPE_REG
	movSelf.From.Reg = x86.REG_BP
	movSelf.To.Type = obj.TYPE_REG
	movSelf.To.Reg = x86.REG_DX
	b.AddInstruction(movSelf)

	movRegToMem(b, x86.REG_AX, x86.REG_DX, offsetRetvalGP)
	movRegToMem(b, x86.REG_X0, x86.REG_DX, offsetRetvalFP)

	loadCB := movMemToReg(b, x86.REG_DX, offsetBackstop, x86.REG_BX)

	cmp := b.NewProg()
	cmp.As = x86.ACMPQ
	cmp.From.Type = obj.TYPE_REG
	cmp.From.Reg = x86.REG_BX
	cmp.To.Type = obj.TYPE_CONST
	cmp.To.Offset = 0
	b.AddInstruction(cmp)

	jeq := b.NewProg()
	jeq.As = x86.AJEQ
	b.AddInstruction(jeq)

	movMemToReg(b, x86.REG_DX, offsetBackstopData, x86.REG_DI)

	call := b.NewProg()
	call.As = obj.ACALL
	call.To.Type = obj.TYPE_REG
	call.To.Reg = x86.REG_BX
	b.AddInstruction(call)

	reload := b.NewProg()
	reload.As = x86.AMOVQ
	reload.From.Type = obj.TYPE_REG
	reload.From.Reg = x86.REG_BP
	reload.To.Type = obj.TYPE_REG
	reload.To.Reg = x86.REG_DX
	b.AddInstruction(reload)

	loadRet := movMemToReg(b, x86.REG_DX, offsetRetvalGP, x86.REG_AX)
	jeq.To.SetTarget(loadRet) // "noCallback:" resumes here, skipping the call.
	movMemToReg(b, x86.REG_DX, offsetRetvalFP, x86.REG_X0)
	movMemToReg(b, x86.REG_DX, offsetParentCtx, x86.REG_CX)

	movRegToMem(b, x86.REG_AX, x86.REG_CX, offsetRetvalGP)
	movRegToMem(b, x86.REG_X0, x86.REG_CX, offsetRetvalFP)

	for _, r := range calleeSavedRestoreList {
		movMemToReg(b, x86.REG_CX, r.offset, r.reg)
	}
	movMemToReg(b, x86.REG_CX, offsetRsp, x86.REG_SP)

	ret := b.NewProg()
	ret.As = obj.ARET
	b.AddInstruction(ret)

	_ = loadCB
	return movSelf
}

type calleeSavedSlot struct {
	reg    int16
	offset int64
}

// calleeSavedRestoreList mirrors the full callee-saved set that swap/set
// save and restore in asm_amd64.s (everything but Rsp, which the backstop
// thunk restores separately as the last step before RET). The backstop's
// RET resumes exactly at ctxswitch.Swap's call site as if swap() had
// returned normally, so the resuming Go code is entitled to find every
// register swap documents as callee-saved intact, not just RBX/RBP: a
// partial restore here would silently corrupt R12-R15 or XMM6-15 for
// whatever Go code happens to be using them at the call site.
var calleeSavedRestoreList = []calleeSavedSlot{
	{x86.REG_BX, offsetRbx},
	{x86.REG_BP, offsetRbp},
	{x86.REG_R12, offsetR12},
	{x86.REG_R13, offsetR13},
	{x86.REG_R14, offsetR14},
	{x86.REG_R15, offsetR15},
	{x86.REG_X6, offsetXmm6},
	{x86.REG_X7, offsetXmm7},
	{x86.REG_X8, offsetXmm8},
	{x86.REG_X9, offsetXmm9},
	{x86.REG_X10, offsetXmm10},
	{x86.REG_X11, offsetXmm11},
	{x86.REG_X12, offsetXmm12},
	{x86.REG_X13, offsetXmm13},
	{x86.REG_X14, offsetXmm14},
	{x86.REG_X15, offsetXmm15},
}

func movMemToReg(b *goasm.Builder, memReg int16, offset int64, toReg int16) *obj.Prog {
	p := b.NewProg()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = memReg
	p.From.Offset = offset
	p.To.Type = obj.TYPE_REG
	p.To.Reg = toReg
	b.AddInstruction(p)
	return p
}

func movRegToMem(b *goasm.Builder, fromReg int16, memReg int16, offset int64) *obj.Prog {
	p := b.NewProg()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_REG
	p.From.Reg = fromReg
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = memReg
	p.To.Offset = offset
	b.AddInstruction(p)
	return p
}
