// Package waitxform rewrites memory.atomic.wait32 so a module can run on a
// thread that must never block.
//
// Every wait is replaced by a call to a generated dispatcher. The dispatcher
// reads the exported wait_prohibited global: when it is zero the original
// wait runs unchanged, otherwise a generated spin loop polls the cell with
// atomic loads until the value changes or the timeout expires. The spin is
// bounded by the exported max_spin_ns global and traps through the
// __wait_spin_timeout import when the bound is exceeded.
//
// The pass adds two function imports from a caller-chosen placeholder
// module, so every defined function index moves up by two. All references
// are remapped and all other code is copied byte for byte.
//
//	out, err := waitxform.Transform(data, waitxform.Config{ImportModule: "env"})
package waitxform
