// Package bytecode compiles Sphinx ASTs to a compact stack bytecode and
// executes it.
//
// The bytecode format is designed for:
//   - Compact representation (typically 1-3 bytes per instruction)
//   - Fast decoding (fixed-width opcodes, simple operand formats)
//   - Easy serialization (Programs encode to canonical CBOR)
//
// # Architecture Overview
//
// The package consists of several components:
//
//   - Opcodes: ~45 stack-based instructions covering constants, variable
//     access, arithmetic, bitwise, comparison, control flow, tuples, and
//     function calls
//
//   - Chunk: an append-only code buffer plus a deduplicated constant pool.
//     Constant loads use a narrow (8-bit index) form when possible and a
//     wide (16-bit index) form otherwise.
//
//   - ScopeTracker: lexical analysis performed during code generation. It
//     tracks nested block/loop/branch/function scopes, allocates local
//     slots, resolves free variables into upvalue chains across arbitrarily
//     deep closures, and resolves break/continue targets.
//
//   - CodeGenerator: one-pass lowering of statement trees. Each top-level
//     statement compiles independently; failures accumulate instead of
//     aborting the pass, so a failed build reports every error it found.
//     Every emitted instruction carries exactly one debug symbol.
//
//   - VM: a stack interpreter executing Programs against a runtime.Heap.
//     Operator instructions resolve through the runtime package's
//     short-circuit evaluator, with reference identity as the equality
//     fallback for heap objects.
//
// # Capture Semantics
//
// Closures capture variables by reference. When a function definition
// captures an enclosing local, the local's stack slot is boxed into a
// heap-allocated cell shared by every closure capturing it; captures of
// captures chain through each intermediate function, so mutations are
// visible at every nesting depth.
package bytecode
