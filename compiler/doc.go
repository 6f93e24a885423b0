/*

The toolchain pipeline

JSON Program Text ->
	ir.Decode ->
Intermediate Language (ir) ->
	cfg.Build ->
Control-Flow Graph (cfg) ->
	opt passes over df analyses ->
Rewritten Graph ->
	ToFunc + ir.Encode ->
JSON Program Text

The interpreter (interp) runs the ir directly over a typed heap (mem).

*/
package compiler
