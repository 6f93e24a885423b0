package ir

import (
	"bytes"
	"encoding/json"
	"math/big"

	"tlog.app/go/errors"
)

// The wire format:
//
//	{"functions": [{"name": "main", "instrs": [{"label": "l"} | {"op": ...}, ...]}, ...]}
//
// Decoding validates opcodes, argument counts and required fields. Malformed
// input is fatal to the caller; there is nothing to recover.

type (
	jsonProgram struct {
		Functions []jsonFunc `json:"functions"`
	}

	jsonFunc struct {
		Name   string            `json:"name"`
		Instrs []json.RawMessage `json:"instrs"`
	}

	jsonInstr struct {
		Op    Op              `json:"op"`
		Dest  string          `json:"dest,omitempty"`
		Type  json.RawMessage `json:"type,omitempty"`
		Args  []string        `json:"args,omitempty"`
		Value json.RawMessage `json:"value,omitempty"`
	}

	jsonLabel struct {
		Label string `json:"label"`
	}
)

func Decode(data []byte) (p *Program, err error) {
	var jp jsonProgram

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	err = dec.Decode(&jp)
	if err != nil {
		return nil, errors.Wrap(err, "decode program")
	}

	p = &Program{}

	for _, jf := range jp.Functions {
		f := &Func{Name: jf.Name}

		for i, raw := range jf.Instrs {
			it, err := decodeItem(raw)
			if err != nil {
				return nil, errors.Wrap(err, "func %v: instr %d", jf.Name, i)
			}

			f.Items = append(f.Items, it)
		}

		p.Funcs = append(p.Funcs, f)
	}

	if p.Func("main") == nil {
		return nil, errors.New("no main function")
	}

	return p, nil
}

func decodeItem(raw json.RawMessage) (it Item, err error) {
	var probe map[string]json.RawMessage

	err = json.Unmarshal(raw, &probe)
	if err != nil {
		return it, errors.Wrap(err, "decode item")
	}

	if _, ok := probe["label"]; ok {
		var jl jsonLabel

		err = json.Unmarshal(raw, &jl)
		if err != nil {
			return it, errors.Wrap(err, "decode label")
		}

		if jl.Label == "" {
			return it, errors.New("empty label")
		}

		return Item{Label: jl.Label}, nil
	}

	var ji jsonInstr

	err = json.Unmarshal(raw, &ji)
	if err != nil {
		return it, errors.Wrap(err, "decode instr")
	}

	x := &Instr{Op: ji.Op, Dest: ji.Dest, Args: ji.Args}

	if !x.Op.Known() {
		return it, errors.New("unknown opcode: %q", ji.Op)
	}

	if n := arity[x.Op]; n >= 0 && len(x.Args) != n {
		return it, errors.New("%v: want %d args, got %d", x.Op, n, len(x.Args))
	}

	if ji.Type != nil {
		x.Type, err = decodeType(ji.Type)
		if err != nil {
			return it, errors.Wrap(err, "%v: type", x.Op)
		}
	}

	if x.Op.IsValue() {
		if x.Dest == "" {
			return it, errors.New("%v: missing dest", x.Op)
		}
		if x.Type == nil {
			return it, errors.New("%v: missing type", x.Op)
		}
	}

	if x.Op == Const {
		if ji.Value == nil {
			return it, errors.New("const: missing value")
		}

		x.Value, err = decodeValue(ji.Value)
		if err != nil {
			return it, errors.Wrap(err, "const: value")
		}
	}

	return Item{Instr: x}, nil
}

func decodeType(raw json.RawMessage) (t *Type, err error) {
	var s string

	if err = json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "int":
			return IntType(), nil
		case "bool":
			return BoolType(), nil
		case "ptr":
			return PtrType(nil), nil
		default:
			return nil, errors.New("unknown type: %q", s)
		}
	}

	var obj struct {
		Ptr json.RawMessage `json:"ptr"`
	}

	err = json.Unmarshal(raw, &obj)
	if err != nil || obj.Ptr == nil {
		return nil, errors.New("bad type descriptor: %s", raw)
	}

	elem, err := decodeType(obj.Ptr)
	if err != nil {
		return nil, err
	}

	return PtrType(elem), nil
}

func decodeValue(raw json.RawMessage) (v any, err error) {
	var b bool

	if err = json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}

	var num json.Number

	err = json.Unmarshal(raw, &num)
	if err != nil {
		return nil, errors.New("bad literal: %s", raw)
	}

	z, ok := new(big.Int).SetString(num.String(), 10)
	if !ok {
		return nil, errors.New("bad int literal: %s", num)
	}

	return z, nil
}

func Encode(p *Program) (data []byte, err error) {
	jp := jsonProgram{Functions: []jsonFunc{}}

	for _, f := range p.Funcs {
		jf := jsonFunc{Name: f.Name, Instrs: []json.RawMessage{}}

		for _, it := range f.Items {
			raw, err := encodeItem(it)
			if err != nil {
				return nil, errors.Wrap(err, "func %v", f.Name)
			}

			jf.Instrs = append(jf.Instrs, raw)
		}

		jp.Functions = append(jp.Functions, jf)
	}

	return json.MarshalIndent(jp, "", "  ")
}

func encodeItem(it Item) (raw json.RawMessage, err error) {
	if it.IsLabel() {
		return json.Marshal(jsonLabel{Label: it.Label})
	}

	x := it.Instr

	ji := jsonInstr{Op: x.Op, Dest: x.Dest, Args: x.Args}

	if x.Type != nil {
		ji.Type, err = encodeType(x.Type)
		if err != nil {
			return nil, err
		}
	}

	if x.Op == Const {
		switch v := x.Value.(type) {
		case *big.Int:
			ji.Value = json.RawMessage(v.Text(10))
		case bool:
			ji.Value, _ = json.Marshal(v)
		default:
			return nil, errors.New("const %v: bad value %T", x.Dest, x.Value)
		}
	}

	return json.Marshal(ji)
}

func encodeType(t *Type) (json.RawMessage, error) {
	switch t.Kind {
	case KindInt:
		return json.Marshal("int")
	case KindBool:
		return json.Marshal("bool")
	case KindPtr:
		if t.Elem == nil {
			return json.Marshal("ptr")
		}

		elem, err := encodeType(t.Elem)
		if err != nil {
			return nil, err
		}

		return json.RawMessage(`{"ptr":` + string(elem) + `}`), nil
	default:
		return nil, errors.New("bad type kind: %d", t.Kind)
	}
}
