package jit

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/janzwiener/r5vm-go/hostmem"
)

// setFunctionCode points a Go func value's code address at the first
// byte of executable. Grounded directly on the SetFunctionCode trick
// used by Go eBPF JIT compilers (see "Go 1.1 Function Calls"): a func
// value is, at the representation level, a pointer to a single word
// holding the entry PC, and a []byte header's first word is its Data
// pointer — so aliasing that word with our own slice redirects the call.
func setFunctionCode(dstAddr interface{}, executable []byte) error {
	type interfaceHeader struct {
		typ  uintptr
		addr **[]byte
	}
	v := reflect.ValueOf(dstAddr)
	if !v.IsValid() || v.Kind() != reflect.Ptr || v.IsNil() || !v.Elem().CanSet() || v.Elem().Kind() != reflect.Func {
		return fmt.Errorf("jit: setFunctionCode destination must be a pointer to a settable func value")
	}
	header := *(*interfaceHeader)(unsafe.Pointer(&dstAddr))
	*header.addr = &executable
	return nil
}

// makeFunc returns a Go function that, when called, jumps straight into
// the start of blk's executable memory — the compiled program's entry
// trampoline (see Compile, which always emits the trampoline at offset
// zero for exactly this reason).
func makeFunc(blk *hostmem.Block) func() {
	var fn func()
	if err := setFunctionCode(&fn, blk.Bytes); err != nil {
		panic(err)
	}
	return fn
}
