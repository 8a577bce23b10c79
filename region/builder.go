package region

// InstanceBuilder collects the optional per-instance overrides accepted by
// NewInstance into a fluent chain, matching the teacher's RuntimeConfig
// builder style and the new_instance_builder(...).build() phrasing used
// throughout the allocator's external contract.
type InstanceBuilder struct {
	region  *Region
	module  ModuleInfo
	heapCap *uint64
}

// NewInstanceBuilder starts building an instance in r for mod.
func (r *Region) NewInstanceBuilder(mod ModuleInfo) *InstanceBuilder {
	return &InstanceBuilder{region: r, module: mod}
}

// WithHeapCap overrides the module's HeapSpec.MaxSize for this instance
// only. It must not exceed the Region's Limits.HeapMemorySize; Build
// reports that as ErrLimitsExceeded rather than WithHeapCap itself, so the
// chain can be built without checking errors at every step.
func (b *InstanceBuilder) WithHeapCap(bytes uint64) *InstanceBuilder {
	b.heapCap = &bytes
	return b
}

// Build carves a Slot and commits it, returning an InstanceHandle.
func (b *InstanceBuilder) Build() (*InstanceHandle, error) {
	return b.region.NewInstance(b.module, b.heapCap)
}
