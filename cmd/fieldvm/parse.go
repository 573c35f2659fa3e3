package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solidkernel/fieldvm/internal/opcode"
	"github.com/solidkernel/fieldvm/internal/tree"
)

// unaryNames and binaryNames map the CLI's s-expression operator tokens to
// opcodes, covering every opcode.Opcode that can appear in a clause.
var unaryNames = map[string]opcode.Opcode{
	"neg": opcode.NEG, "square": opcode.SQUARE, "sqrt": opcode.SQRT,
	"sin": opcode.SIN, "cos": opcode.COS, "tan": opcode.TAN,
	"asin": opcode.ASIN, "acos": opcode.ACOS, "atan": opcode.ATAN,
	"exp": opcode.EXP, "const-var": opcode.CONST_VAR,
}

var binaryNames = map[string]opcode.Opcode{
	"add": opcode.ADD, "sub": opcode.SUB, "mul": opcode.MUL, "div": opcode.DIV,
	"min": opcode.MIN, "max": opcode.MAX, "atan2": opcode.ATAN2,
	"pow": opcode.POW, "nth-root": opcode.NTH_ROOT, "mod": opcode.MOD,
	"nanfill": opcode.NANFILL,
}

// parseField parses a small s-expression field language into a tree.Node:
//
//	x | y | z                leaf axes
//	<number>                 constant
//	$name                    free variable
//	(op a)                   unary operator
//	(op a b)                 binary operator, folded left for >2 operands
//
// e.g. "(max x y)", "(min (sub x 1) (sub 1 x))".
func parseField(cache *tree.Cache, src string) (*tree.Node, error) {
	toks := tokenize(src)
	if len(toks) == 0 {
		return nil, fmt.Errorf("parse: empty expression")
	}
	n, rest, err := parseExpr(cache, toks)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("parse: unexpected trailing tokens %v", rest)
	}
	return n, nil
}

func tokenize(src string) []string {
	src = strings.ReplaceAll(src, "(", " ( ")
	src = strings.ReplaceAll(src, ")", " ) ")
	return strings.Fields(src)
}

func parseExpr(cache *tree.Cache, toks []string) (*tree.Node, []string, error) {
	if len(toks) == 0 {
		return nil, nil, fmt.Errorf("parse: unexpected end of input")
	}
	head, rest := toks[0], toks[1:]

	if head == "(" {
		if len(rest) == 0 {
			return nil, nil, fmt.Errorf("parse: unexpected end after (")
		}
		op, rest := rest[0], rest[1:]
		var args []*tree.Node
		for len(rest) > 0 && rest[0] != ")" {
			arg, next, err := parseExpr(cache, rest)
			if err != nil {
				return nil, nil, err
			}
			args = append(args, arg)
			rest = next
		}
		if len(rest) == 0 || rest[0] != ")" {
			return nil, nil, fmt.Errorf("parse: missing closing )")
		}
		rest = rest[1:]

		n, err := applyOp(cache, op, args)
		if err != nil {
			return nil, nil, err
		}
		return n, rest, nil
	}

	if head == ")" {
		return nil, nil, fmt.Errorf("parse: unexpected )")
	}

	return parseAtom(cache, head), rest, nil
}

func applyOp(cache *tree.Cache, op string, args []*tree.Node) (*tree.Node, error) {
	if u, ok := unaryNames[op]; ok {
		if len(args) != 1 {
			return nil, fmt.Errorf("parse: %s takes exactly 1 argument, got %d", op, len(args))
		}
		return cache.Unary(u, args[0]), nil
	}
	if b, ok := binaryNames[op]; ok {
		if len(args) < 2 {
			return nil, fmt.Errorf("parse: %s takes at least 2 arguments, got %d", op, len(args))
		}
		n := cache.Binary(b, args[0], args[1])
		for _, a := range args[2:] {
			n = cache.Binary(b, n, a)
		}
		return n, nil
	}
	return nil, fmt.Errorf("parse: unknown operator %q", op)
}

func parseAtom(cache *tree.Cache, tok string) *tree.Node {
	switch tok {
	case "x":
		return cache.X()
	case "y":
		return cache.Y()
	case "z":
		return cache.Z()
	}
	if strings.HasPrefix(tok, "$") {
		return cache.Var(tok[1:])
	}
	if v, err := strconv.ParseFloat(tok, 64); err == nil {
		return cache.Const(v)
	}
	return cache.Var(tok)
}
