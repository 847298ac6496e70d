package wasmmod

// FuncBuilder accumulates the body of one function definition. Obtain one
// via Module.NewFunction; emit instructions through Body(); finish with
// Finish() (a no-op; Module.Encode neither calls nor needs it).
type FuncBuilder struct {
	module *Module
	id     FuncID
	name   string
	sig    FuncType
	locals []ValType // declared locals, beyond the signature's params
	instr  *InstrBuilder
}

// ID returns this function's module-wide FuncID.
func (fb *FuncBuilder) ID() FuncID { return fb.id }

// Name returns the name this function was declared with.
func (fb *FuncBuilder) Name() string { return fb.name }

// Signature returns the function's (params, results) signature.
func (fb *FuncBuilder) Signature() FuncType { return fb.sig }

// Param returns the LocalID of the i-th parameter.
func (fb *FuncBuilder) Param(i int) LocalID {
	if i < 0 || i >= len(fb.sig.Params) {
		panic("BUG: parameter index out of range")
	}
	return LocalID(i)
}

// NewLocal declares an additional local variable of the given type and
// returns its LocalID.
func (fb *FuncBuilder) NewLocal(vt ValType) LocalID {
	id := LocalID(len(fb.sig.Params) + len(fb.locals))
	fb.locals = append(fb.locals, vt)
	return id
}

// Body returns the InstrBuilder for this function's body.
func (fb *FuncBuilder) Body() *InstrBuilder { return fb.instr }

// Finish is a no-op hook kept for symmetry with wazero's
// Builder.Init/RunPasses lifecycle; Module.Encode does not call it.
// Exposed so callers can assert a function is "done" before further
// memoized lookups reference it.
func (fb *FuncBuilder) Finish() {}
