package amd64

// Convenience entry points for common mnemonics. Each panics when the
// operands match no variant of the assembler's table.

func (a *Assembler) Mov(ops ...Operand)     { a.Inst("mov", ops...) }
func (a *Assembler) Movabs(ops ...Operand)  { a.Inst("movabs", ops...) }
func (a *Assembler) Movzx(ops ...Operand)   { a.Inst("movzx", ops...) }
func (a *Assembler) Movsx(ops ...Operand)   { a.Inst("movsx", ops...) }
func (a *Assembler) Movsxd(ops ...Operand)  { a.Inst("movsxd", ops...) }
func (a *Assembler) Lea(ops ...Operand)     { a.Inst("lea", ops...) }
func (a *Assembler) Push(ops ...Operand)    { a.Inst("push", ops...) }
func (a *Assembler) Pop(ops ...Operand)     { a.Inst("pop", ops...) }
func (a *Assembler) Xchg(ops ...Operand)    { a.Inst("xchg", ops...) }
func (a *Assembler) Cmpxchg(ops ...Operand) { a.Inst("cmpxchg", ops...) }
func (a *Assembler) Xadd(ops ...Operand)    { a.Inst("xadd", ops...) }

func (a *Assembler) Add(ops ...Operand)  { a.Inst("add", ops...) }
func (a *Assembler) Adc(ops ...Operand)  { a.Inst("adc", ops...) }
func (a *Assembler) Sub(ops ...Operand)  { a.Inst("sub", ops...) }
func (a *Assembler) Sbb(ops ...Operand)  { a.Inst("sbb", ops...) }
func (a *Assembler) And(ops ...Operand)  { a.Inst("and", ops...) }
func (a *Assembler) Or(ops ...Operand)   { a.Inst("or", ops...) }
func (a *Assembler) Xor(ops ...Operand)  { a.Inst("xor", ops...) }
func (a *Assembler) Cmp(ops ...Operand)  { a.Inst("cmp", ops...) }
func (a *Assembler) Test(ops ...Operand) { a.Inst("test", ops...) }
func (a *Assembler) Inc(ops ...Operand)  { a.Inst("inc", ops...) }
func (a *Assembler) Dec(ops ...Operand)  { a.Inst("dec", ops...) }
func (a *Assembler) Neg(ops ...Operand)  { a.Inst("neg", ops...) }
func (a *Assembler) Not(ops ...Operand)  { a.Inst("not", ops...) }
func (a *Assembler) Mul(ops ...Operand)  { a.Inst("mul", ops...) }
func (a *Assembler) Imul(ops ...Operand) { a.Inst("imul", ops...) }
func (a *Assembler) Div(ops ...Operand)  { a.Inst("div", ops...) }
func (a *Assembler) Idiv(ops ...Operand) { a.Inst("idiv", ops...) }
func (a *Assembler) Shl(ops ...Operand)  { a.Inst("shl", ops...) }
func (a *Assembler) Shr(ops ...Operand)  { a.Inst("shr", ops...) }
func (a *Assembler) Sar(ops ...Operand)  { a.Inst("sar", ops...) }
func (a *Assembler) Rol(ops ...Operand)  { a.Inst("rol", ops...) }
func (a *Assembler) Ror(ops ...Operand)  { a.Inst("ror", ops...) }

func (a *Assembler) Jmp(ops ...Operand)  { a.Inst("jmp", ops...) }
func (a *Assembler) Call(ops ...Operand) { a.Inst("call", ops...) }
func (a *Assembler) Je(ops ...Operand)   { a.Inst("je", ops...) }
func (a *Assembler) Jne(ops ...Operand)  { a.Inst("jne", ops...) }
func (a *Assembler) Jz(ops ...Operand)   { a.Inst("jz", ops...) }
func (a *Assembler) Jnz(ops ...Operand)  { a.Inst("jnz", ops...) }
func (a *Assembler) Jl(ops ...Operand)   { a.Inst("jl", ops...) }
func (a *Assembler) Jle(ops ...Operand)  { a.Inst("jle", ops...) }
func (a *Assembler) Jg(ops ...Operand)   { a.Inst("jg", ops...) }
func (a *Assembler) Jge(ops ...Operand)  { a.Inst("jge", ops...) }
func (a *Assembler) Jb(ops ...Operand)   { a.Inst("jb", ops...) }
func (a *Assembler) Jbe(ops ...Operand)  { a.Inst("jbe", ops...) }
func (a *Assembler) Ja(ops ...Operand)   { a.Inst("ja", ops...) }
func (a *Assembler) Jae(ops ...Operand)  { a.Inst("jae", ops...) }
func (a *Assembler) Js(ops ...Operand)   { a.Inst("js", ops...) }
func (a *Assembler) Jns(ops ...Operand)  { a.Inst("jns", ops...) }

func (a *Assembler) Ret(ops ...Operand) { a.Inst("ret", ops...) }
func (a *Assembler) Nop(ops ...Operand) { a.Inst("nop", ops...) }
func (a *Assembler) Int3()              { a.Inst("int3") }
func (a *Assembler) Syscall()           { a.Inst("syscall") }
func (a *Assembler) Hlt()               { a.Inst("hlt") }
func (a *Assembler) Ud2()               { a.Inst("ud2") }
func (a *Assembler) Pause()             { a.Inst("pause") }
func (a *Assembler) Cpuid()             { a.Inst("cpuid") }
func (a *Assembler) Rdtsc()             { a.Inst("rdtsc") }
func (a *Assembler) Leave()             { a.Inst("leave") }
func (a *Assembler) Cqo()               { a.Inst("cqo") }
func (a *Assembler) Cdq()               { a.Inst("cdq") }

func (a *Assembler) Movaps(ops ...Operand) { a.Inst("movaps", ops...) }
func (a *Assembler) Movups(ops ...Operand) { a.Inst("movups", ops...) }
func (a *Assembler) Movq(ops ...Operand)   { a.Inst("movq", ops...) }
func (a *Assembler) Movd(ops ...Operand)   { a.Inst("movd", ops...) }
func (a *Assembler) Addps(ops ...Operand)  { a.Inst("addps", ops...) }
func (a *Assembler) Addsd(ops ...Operand)  { a.Inst("addsd", ops...) }
func (a *Assembler) Mulsd(ops ...Operand)  { a.Inst("mulsd", ops...) }
func (a *Assembler) Pxor(ops ...Operand)   { a.Inst("pxor", ops...) }
func (a *Assembler) Vaddps(ops ...Operand) { a.Inst("vaddps", ops...) }
func (a *Assembler) Vpxor(ops ...Operand)  { a.Inst("vpxor", ops...) }
func (a *Assembler) Vzeroupper()           { a.Inst("vzeroupper") }
