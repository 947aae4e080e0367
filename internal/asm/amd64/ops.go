package amd64

// DefaultTable is the variant table used by New.
var DefaultTable = buildDefaultTable()

func v(args string, reg uint8, flags Flags, ops ...byte) Opdata {
	return Opdata{Args: args, Ops: ops, Reg: reg, Flags: flags}
}

// conditionCodes maps jcc/setcc/cmovcc suffixes to their condition nibble.
var conditionCodes = map[string]byte{
	"o": 0x0, "no": 0x1,
	"b": 0x2, "c": 0x2, "nae": 0x2,
	"ae": 0x3, "nb": 0x3, "nc": 0x3,
	"e": 0x4, "z": 0x4,
	"ne": 0x5, "nz": 0x5,
	"be": 0x6, "na": 0x6,
	"a": 0x7, "nbe": 0x7,
	"s": 0x8, "ns": 0x9,
	"p": 0xA, "pe": 0xA,
	"np": 0xB, "po": 0xB,
	"l": 0xC, "nge": 0xC,
	"ge": 0xD, "nl": 0xD,
	"le": 0xE, "ng": 0xE,
	"g": 0xF, "nle": 0xF,
}

func arith(ext uint8, lock Flags) []Opdata {
	base := ext * 8
	return []Opdata{
		v("Abib", NoReg, 0, base+4),
		v("vbib", ext, lock, 0x80),
		v("v*ib", ext, FlagAutoSize|lock, 0x83),
		v("A*i*", NoReg, FlagAutoSize, base+5),
		v("v*i*", ext, FlagAutoSize|lock, 0x81),
		v("vbrb", NoReg, FlagEncMR|lock, base),
		v("v*r*", NoReg, FlagAutoSize|FlagEncMR|lock, base+1),
		v("rbvb", NoReg, 0, base+2),
		v("r*v*", NoReg, FlagAutoSize, base+3),
	}
}

func unary(ext uint8, flags Flags) []Opdata {
	return []Opdata{
		v("vb", ext, flags, 0xF6),
		v("v*", ext, FlagAutoSize|flags, 0xF7),
	}
}

func shift(ext uint8) []Opdata {
	return []Opdata{
		v("vbBb", ext, 0, 0xD2),
		v("v*Bb", ext, FlagAutoSize, 0xD3),
		v("vbib", ext, 0, 0xC0),
		v("v*ib", ext, FlagAutoSize, 0xC1),
	}
}

func sse(op byte, pref Flags) []Opdata {
	return []Opdata{v("yowo", NoReg, pref, 0x0F, op)}
}

func sseScalar(op byte, pref Flags, size string) []Opdata {
	return []Opdata{v("yow"+size, NoReg, pref, 0x0F, op)}
}

func vex3(mapSelect, op byte, flags Flags) []Opdata {
	return []Opdata{v("y*y*w*", NoReg, FlagVEX|FlagAutoVEXL|flags, mapSelect, op)}
}

func buildDefaultTable() VariantTable {
	t := VariantTable{}

	for name, ext := range map[string]uint8{
		"add": 0, "or": 1, "adc": 2, "sbb": 3, "and": 4, "sub": 5, "xor": 6,
	} {
		t[name] = arith(ext, FlagLock)
	}
	t["cmp"] = arith(7, 0)

	t["mov"] = []Opdata{
		v("v*r*", NoReg, FlagAutoSize|FlagEncMR, 0x89),
		v("vbrb", NoReg, FlagEncMR, 0x88),
		v("r*v*", NoReg, FlagAutoSize, 0x8B),
		v("rbvb", NoReg, 0, 0x8A),
		v("rbib", NoReg, FlagShortArg, 0xB0),
		v("rwiw", NoReg, FlagShortArg|FlagWordSize, 0xB8),
		v("rdid", NoReg, FlagShortArg, 0xB8),
		v("v*i*", 0, FlagAutoSize, 0xC7),
		v("rqiq", NoReg, FlagShortArg|FlagWithREXW, 0xB8),
		v("vbib", 0, 0, 0xC6),
		v("rwsw", NoReg, FlagEncMR|FlagWordSize, 0x8C),
		v("mwsw", NoReg, FlagEncMR, 0x8C),
		v("swvw", NoReg, 0, 0x8E),
		v("rqcq", NoReg, FlagEncMR, 0x0F, 0x20),
		v("cqrq", NoReg, 0, 0x0F, 0x22),
		v("rqdq", NoReg, FlagEncMR, 0x0F, 0x21),
		v("dqrq", NoReg, 0, 0x0F, 0x23),
	}
	t["movabs"] = []Opdata{v("rqiq", NoReg, FlagShortArg|FlagWithREXW, 0xB8)}
	t["lea"] = []Opdata{v("r*m?", NoReg, FlagAutoSize, 0x8D)}
	t["movzx"] = []Opdata{
		v("r*vb", NoReg, FlagAutoSize, 0x0F, 0xB6),
		v("r*vw", NoReg, FlagAutoSize, 0x0F, 0xB7),
	}
	t["movsx"] = []Opdata{
		v("r*vb", NoReg, FlagAutoSize, 0x0F, 0xBE),
		v("r*vw", NoReg, FlagAutoSize, 0x0F, 0xBF),
	}
	t["movsxd"] = []Opdata{v("rqvd", NoReg, FlagWithREXW, 0x63)}

	t["push"] = []Opdata{
		v("r*", NoReg, FlagAutoNo32|FlagShortArg, 0x50),
		v("v*", 6, FlagAutoNo32, 0xFF),
		v("id", NoReg, 0, 0x68),
		v("Uw", NoReg, 0, 0x0F, 0xA0),
		v("Vw", NoReg, 0, 0x0F, 0xA8),
	}
	t["pop"] = []Opdata{
		v("r*", NoReg, FlagAutoNo32|FlagShortArg, 0x58),
		v("v*", 0, FlagAutoNo32, 0x8F),
		v("Uw", NoReg, 0, 0x0F, 0xA1),
		v("Vw", NoReg, 0, 0x0F, 0xA9),
	}

	t["inc"] = []Opdata{v("vb", 0, FlagLock, 0xFE), v("v*", 0, FlagAutoSize|FlagLock, 0xFF)}
	t["dec"] = []Opdata{v("vb", 1, FlagLock, 0xFE), v("v*", 1, FlagAutoSize|FlagLock, 0xFF)}
	t["not"] = unary(2, FlagLock)
	t["neg"] = unary(3, FlagLock)
	t["mul"] = unary(4, 0)
	t["div"] = unary(6, 0)
	t["idiv"] = unary(7, 0)
	t["imul"] = append(unary(5, 0),
		v("r*v*", NoReg, FlagAutoSize, 0x0F, 0xAF),
		v("r*v*ib", NoReg, FlagAutoSize, 0x6B),
		v("r*v*i*", NoReg, FlagAutoSize, 0x69),
	)

	for name, ext := range map[string]uint8{
		"rol": 0, "ror": 1, "rcl": 2, "rcr": 3, "shl": 4, "sal": 4, "shr": 5, "sar": 7,
	} {
		t[name] = shift(ext)
	}

	t["test"] = []Opdata{
		v("vbrb", NoReg, FlagEncMR, 0x84),
		v("v*r*", NoReg, FlagAutoSize|FlagEncMR, 0x85),
		v("Abib", NoReg, 0, 0xA8),
		v("A*i*", NoReg, FlagAutoSize, 0xA9),
		v("vbib", 0, 0, 0xF6),
		v("v*i*", 0, FlagAutoSize, 0xF7),
	}
	t["xchg"] = []Opdata{
		v("vbrb", NoReg, FlagEncMR|FlagLock, 0x86),
		v("v*r*", NoReg, FlagAutoSize|FlagEncMR|FlagLock, 0x87),
		v("rbvb", NoReg, FlagLock, 0x86),
		v("r*v*", NoReg, FlagAutoSize|FlagLock, 0x87),
	}
	t["cmpxchg"] = []Opdata{
		v("vbrb", NoReg, FlagEncMR|FlagLock, 0x0F, 0xB0),
		v("v*r*", NoReg, FlagAutoSize|FlagEncMR|FlagLock, 0x0F, 0xB1),
	}
	t["xadd"] = []Opdata{
		v("vbrb", NoReg, FlagEncMR|FlagLock, 0x0F, 0xC0),
		v("v*r*", NoReg, FlagAutoSize|FlagEncMR|FlagLock, 0x0F, 0xC1),
	}
	t["bt"] = []Opdata{
		v("v*r*", NoReg, FlagAutoSize|FlagEncMR, 0x0F, 0xA3),
		v("v*ib", 4, FlagAutoSize, 0x0F, 0xBA),
	}
	t["bswap"] = []Opdata{v("r*", NoReg, FlagAutoREXW|FlagShortArg, 0x0F, 0xC8)}
	t["popcnt"] = []Opdata{v("r*v*", NoReg, FlagAutoSize|FlagPrefF3, 0x0F, 0xB8)}
	t["lzcnt"] = []Opdata{v("r*v*", NoReg, FlagAutoSize|FlagPrefF3, 0x0F, 0xBD)}
	t["tzcnt"] = []Opdata{v("r*v*", NoReg, FlagAutoSize|FlagPrefF3, 0x0F, 0xBC)}

	t["jmp"] = []Opdata{
		v("od", NoReg, 0, 0xE9),
		v("v*", 4, FlagAutoNo32, 0xFF),
	}
	t["call"] = []Opdata{
		v("od", NoReg, 0, 0xE8),
		v("v*", 2, FlagAutoNo32, 0xFF),
	}
	for cc, code := range conditionCodes {
		t["j"+cc] = []Opdata{v("od", NoReg, 0, 0x0F, 0x80+code)}
		t["set"+cc] = []Opdata{v("vb", 0, 0, 0x0F, 0x90+code)}
		t["cmov"+cc] = []Opdata{v("r*v*", NoReg, FlagAutoSize, 0x0F, 0x40+code)}
	}

	t["ret"] = []Opdata{v("", NoReg, 0, 0xC3), v("iw", NoReg, 0, 0xC2)}
	t["nop"] = []Opdata{v("", NoReg, 0, 0x90), v("v*", 0, FlagAutoSize, 0x0F, 0x1F)}
	t["int3"] = []Opdata{v("", NoReg, 0, 0xCC)}
	t["int"] = []Opdata{v("ib", NoReg, 0, 0xCD)}
	t["syscall"] = []Opdata{v("", NoReg, 0, 0x0F, 0x05)}
	t["hlt"] = []Opdata{v("", NoReg, 0, 0xF4)}
	t["ud2"] = []Opdata{v("", NoReg, 0, 0x0F, 0x0B)}
	t["pause"] = []Opdata{v("", NoReg, FlagPrefF3, 0x90)}
	t["cpuid"] = []Opdata{v("", NoReg, 0, 0x0F, 0xA2)}
	t["rdtsc"] = []Opdata{v("", NoReg, 0, 0x0F, 0x31)}
	t["rdmsr"] = []Opdata{v("", NoReg, 0, 0x0F, 0x32)}
	t["wrmsr"] = []Opdata{v("", NoReg, 0, 0x0F, 0x30)}
	t["leave"] = []Opdata{v("", NoReg, 0, 0xC9)}
	t["cwd"] = []Opdata{v("", NoReg, FlagWordSize, 0x99)}
	t["cdq"] = []Opdata{v("", NoReg, 0, 0x99)}
	t["cqo"] = []Opdata{v("", NoReg, FlagWithREXW, 0x99)}
	t["cdqe"] = []Opdata{v("", NoReg, FlagWithREXW, 0x98)}
	t["clc"] = []Opdata{v("", NoReg, 0, 0xF8)}
	t["stc"] = []Opdata{v("", NoReg, 0, 0xF9)}
	t["cld"] = []Opdata{v("", NoReg, 0, 0xFC)}
	t["std"] = []Opdata{v("", NoReg, 0, 0xFD)}
	t["mfence"] = []Opdata{v("", NoReg, 0, 0x0F, 0xAE, 0xF0)}
	t["lfence"] = []Opdata{v("", NoReg, 0, 0x0F, 0xAE, 0xE8)}
	t["sfence"] = []Opdata{v("", NoReg, 0, 0x0F, 0xAE, 0xF8)}

	t["movsb"] = []Opdata{v("", NoReg, FlagRep, 0xA4)}
	t["movsw"] = []Opdata{v("", NoReg, FlagRep|FlagWordSize, 0xA5)}
	t["movsq"] = []Opdata{v("", NoReg, FlagRep|FlagWithREXW, 0xA5)}
	t["stosb"] = []Opdata{v("", NoReg, FlagRep, 0xAA)}
	t["stosd"] = []Opdata{v("", NoReg, FlagRep, 0xAB)}
	t["stosq"] = []Opdata{v("", NoReg, FlagRep|FlagWithREXW, 0xAB)}
	t["lodsb"] = []Opdata{v("", NoReg, FlagRep, 0xAC)}
	t["cmpsb"] = []Opdata{v("", NoReg, FlagRepe, 0xA6)}
	t["scasb"] = []Opdata{v("", NoReg, FlagRepe, 0xAE)}

	// x87
	t["fld"] = []Opdata{
		v("md", 0, 0, 0xD9),
		v("mq", 0, 0, 0xDD),
		v("mp", 5, 0, 0xDB),
		v("fp", NoReg, FlagShortArg, 0xD9, 0xC0),
	}
	t["fstp"] = []Opdata{
		v("md", 3, 0, 0xD9),
		v("mq", 3, 0, 0xDD),
		v("mp", 7, 0, 0xDB),
		v("fp", NoReg, FlagShortArg, 0xDD, 0xD8),
	}
	t["fild"] = []Opdata{v("mq", 5, 0, 0xDF)}
	t["fistp"] = []Opdata{v("mq", 7, 0, 0xDF)}
	t["fadd"] = []Opdata{v("Xpfp", NoReg, FlagShortArg, 0xD8, 0xC0)}
	t["faddp"] = []Opdata{v("fpXp", NoReg, FlagShortArg, 0xDE, 0xC0), v("", NoReg, 0, 0xDE, 0xC1)}
	t["fmulp"] = []Opdata{v("fpXp", NoReg, FlagShortArg, 0xDE, 0xC8), v("", NoReg, 0, 0xDE, 0xC9)}
	t["fxch"] = []Opdata{v("fp", NoReg, FlagShortArg, 0xD9, 0xC8)}
	t["fninit"] = []Opdata{v("", NoReg, 0, 0xDB, 0xE3)}
	t["fwait"] = []Opdata{v("", NoReg, 0, 0x9B)}

	// MMX
	t["emms"] = []Opdata{v("", NoReg, 0, 0x0F, 0x77)}
	t["movd"] = []Opdata{
		v("xqvd", NoReg, 0, 0x0F, 0x6E),
		v("vdxq", NoReg, FlagEncMR, 0x0F, 0x7E),
		v("yovd", NoReg, FlagPref66, 0x0F, 0x6E),
		v("vdyo", NoReg, FlagPref66|FlagEncMR, 0x0F, 0x7E),
	}
	t["movq"] = []Opdata{
		v("xquq", NoReg, 0, 0x0F, 0x6F),
		v("uqxq", NoReg, FlagEncMR, 0x0F, 0x7F),
		v("xqvq", NoReg, FlagWithREXW, 0x0F, 0x6E),
		v("vqxq", NoReg, FlagWithREXW|FlagEncMR, 0x0F, 0x7E),
		v("yowq", NoReg, FlagPrefF3, 0x0F, 0x7E),
		v("wqyo", NoReg, FlagPref66|FlagEncMR, 0x0F, 0xD6),
		v("yovq", NoReg, FlagPref66|FlagWithREXW, 0x0F, 0x6E),
		v("vqyo", NoReg, FlagPref66|FlagWithREXW|FlagEncMR, 0x0F, 0x7E),
	}
	t["paddb"] = []Opdata{v("xquq", NoReg, 0, 0x0F, 0xFC), v("yowo", NoReg, FlagPref66, 0x0F, 0xFC)}
	t["paddd"] = []Opdata{v("xquq", NoReg, 0, 0x0F, 0xFE), v("yowo", NoReg, FlagPref66, 0x0F, 0xFE)}
	t["pxor"] = []Opdata{v("xquq", NoReg, 0, 0x0F, 0xEF), v("yowo", NoReg, FlagPref66, 0x0F, 0xEF)}
	t["pand"] = []Opdata{v("xquq", NoReg, 0, 0x0F, 0xDB), v("yowo", NoReg, FlagPref66, 0x0F, 0xDB)}
	t["por"] = []Opdata{v("xquq", NoReg, 0, 0x0F, 0xEB), v("yowo", NoReg, FlagPref66, 0x0F, 0xEB)}

	// SSE
	t["movaps"] = []Opdata{v("yowo", NoReg, 0, 0x0F, 0x28), v("woyo", NoReg, FlagEncMR, 0x0F, 0x29)}
	t["movups"] = []Opdata{v("yowo", NoReg, 0, 0x0F, 0x10), v("woyo", NoReg, FlagEncMR, 0x0F, 0x11)}
	t["movapd"] = []Opdata{v("yowo", NoReg, FlagPref66, 0x0F, 0x28), v("woyo", NoReg, FlagPref66|FlagEncMR, 0x0F, 0x29)}
	t["movdqa"] = []Opdata{v("yowo", NoReg, FlagPref66, 0x0F, 0x6F), v("woyo", NoReg, FlagPref66|FlagEncMR, 0x0F, 0x7F)}
	t["movdqu"] = []Opdata{v("yowo", NoReg, FlagPrefF3, 0x0F, 0x6F), v("woyo", NoReg, FlagPrefF3|FlagEncMR, 0x0F, 0x7F)}
	t["movss"] = []Opdata{v("yowd", NoReg, FlagPrefF3, 0x0F, 0x10), v("wdyo", NoReg, FlagPrefF3|FlagEncMR, 0x0F, 0x11)}
	t["movsd"] = []Opdata{
		v("", NoReg, FlagRep, 0xA5),
		v("yowq", NoReg, FlagPrefF2, 0x0F, 0x10),
		v("wqyo", NoReg, FlagPrefF2|FlagEncMR, 0x0F, 0x11),
	}
	for name, op := range map[string]byte{
		"add": 0x58, "mul": 0x59, "sub": 0x5C, "min": 0x5D, "div": 0x5E, "max": 0x5F, "sqrt": 0x51,
	} {
		t[name+"ps"] = sse(op, 0)
		t[name+"pd"] = sse(op, FlagPref66)
		t[name+"ss"] = sseScalar(op, FlagPrefF3, "d")
		t[name+"sd"] = sseScalar(op, FlagPrefF2, "q")
	}
	t["xorps"] = sse(0x57, 0)
	t["xorpd"] = sse(0x57, FlagPref66)
	t["andps"] = sse(0x54, 0)
	t["andpd"] = sse(0x54, FlagPref66)
	t["orps"] = sse(0x56, 0)
	t["ucomiss"] = sseScalar(0x2E, 0, "d")
	t["ucomisd"] = sseScalar(0x2E, FlagPref66, "q")
	t["comisd"] = sseScalar(0x2F, FlagPref66, "q")
	t["cvtsi2sd"] = []Opdata{v("yov*", NoReg, FlagPrefF2|FlagAutoREXW, 0x0F, 0x2A)}
	t["cvtsi2ss"] = []Opdata{v("yov*", NoReg, FlagPrefF3|FlagAutoREXW, 0x0F, 0x2A)}
	t["cvttsd2si"] = []Opdata{v("r*wq", NoReg, FlagPrefF2|FlagAutoREXW, 0x0F, 0x2C)}
	t["cvttss2si"] = []Opdata{v("r*wd", NoReg, FlagPrefF3|FlagAutoREXW, 0x0F, 0x2C)}
	t["cvtsd2ss"] = sseScalar(0x5A, FlagPrefF2, "q")
	t["cvtss2sd"] = sseScalar(0x5A, FlagPrefF3, "d")
	t["pshufd"] = []Opdata{v("yowoib", NoReg, FlagPref66, 0x0F, 0x70)}
	t["shufps"] = []Opdata{v("yowoib", NoReg, 0, 0x0F, 0xC6)}

	// AVX
	for name, op := range map[string]byte{"add": 0x58, "mul": 0x59, "sub": 0x5C, "div": 0x5E, "xor": 0x57, "and": 0x54} {
		t["v"+name+"ps"] = vex3(1, op, 0)
		t["v"+name+"pd"] = vex3(1, op, FlagPref66)
	}
	t["vpxor"] = vex3(1, 0xEF, FlagPref66)
	t["vpaddd"] = vex3(1, 0xFE, FlagPref66)
	t["vpand"] = vex3(1, 0xDB, FlagPref66)
	t["vfmadd231ps"] = vex3(2, 0xB8, FlagPref66)
	t["vmovaps"] = []Opdata{
		v("y*w*", NoReg, FlagVEX|FlagAutoVEXL, 1, 0x28),
		v("w*y*", NoReg, FlagVEX|FlagAutoVEXL|FlagEncMR, 1, 0x29),
	}
	t["vmovups"] = []Opdata{
		v("y*w*", NoReg, FlagVEX|FlagAutoVEXL, 1, 0x10),
		v("w*y*", NoReg, FlagVEX|FlagAutoVEXL|FlagEncMR, 1, 0x11),
	}
	t["vmovdqu"] = []Opdata{
		v("y*w*", NoReg, FlagVEX|FlagAutoVEXL|FlagPrefF3, 1, 0x6F),
		v("w*y*", NoReg, FlagVEX|FlagAutoVEXL|FlagPrefF3|FlagEncMR, 1, 0x7F),
	}
	t["vbroadcastss"] = []Opdata{v("y*wd", NoReg, FlagVEX|FlagAutoVEXL|FlagPref66, 2, 0x18)}
	t["vpsrld"] = []Opdata{v("y*y*ib", 2, FlagVEX|FlagAutoVEXL|FlagPref66, 1, 0x72)}
	t["vpslld"] = []Opdata{v("y*y*ib", 6, FlagVEX|FlagAutoVEXL|FlagPref66, 1, 0x72)}
	t["vzeroupper"] = []Opdata{v("", NoReg, FlagVEX, 1, 0x77)}
	t["vzeroall"] = []Opdata{v("", NoReg, FlagVEX|FlagWithVEXL, 1, 0x77)}

	// BMI
	t["andn"] = []Opdata{v("r*r*v*", NoReg, FlagVEX|FlagAutoREXW, 2, 0xF2)}
	t["bextr"] = []Opdata{v("r*v*r*", NoReg, FlagVEX|FlagAutoREXW|FlagEncVM, 2, 0xF7)}
	t["blsr"] = []Opdata{v("r*v*", 1, FlagVEX|FlagAutoREXW, 2, 0xF3)}
	t["blsi"] = []Opdata{v("r*v*", 3, FlagVEX|FlagAutoREXW, 2, 0xF3)}
	t["shlx"] = []Opdata{v("r*v*r*", NoReg, FlagVEX|FlagAutoREXW|FlagEncVM|FlagPref66, 2, 0xF7)}
	t["sarx"] = []Opdata{v("r*v*r*", NoReg, FlagVEX|FlagAutoREXW|FlagEncVM|FlagPrefF3, 2, 0xF7)}
	t["shrx"] = []Opdata{v("r*v*r*", NoReg, FlagVEX|FlagAutoREXW|FlagEncVM|FlagPrefF2, 2, 0xF7)}
	t["pdep"] = []Opdata{v("r*r*v*", NoReg, FlagVEX|FlagAutoREXW|FlagPrefF2, 2, 0xF5)}
	t["pext"] = []Opdata{v("r*r*v*", NoReg, FlagVEX|FlagAutoREXW|FlagPrefF3, 2, 0xF5)}

	// XOP
	t["vprotd"] = []Opdata{
		v("yowoyo", NoReg, FlagXOP|FlagEncVM, 9, 0x92),
		v("yowoib", NoReg, FlagXOP, 8, 0xC2),
	}

	return t
}
