package hooksync

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

const (
	// OpJmp is the opcode of a long jmp
	OpJmp byte = 0xE9
	// OpShortJmp is the opcode of a short jmp
	OpShortJmp byte = 0xEB
	// OpCall is the opcode of a call
	OpCall byte = 0xE8
	// OpRet is the opcode of a ret
	OpRet byte = 0xC3
	// OpNop is the opcode of a nop
	OpNop byte = 0x90

	// JmpLen is the length of a long jmp
	JmpLen = 5
	// CallLen is the length of a call
	CallLen = JmpLen

	rel32Size = 4
	// longest x86 instruction
	maxInstLen = 15
)

// ErrNotBranch means the decoded instruction is not a rel32 jmp or call.
var ErrNotBranch = errors.New("not a relative branch")

// Displacement is the rel32 operand of a branch of length instLen at from
// that lands on to.
func Displacement(from, to uintptr, instLen int) int32 {
	return int32(int64(to) - int64(from) - int64(instLen))
}

func formatBranch(op byte, from, to uintptr) [JmpLen]byte {
	b := [JmpLen]byte{op}
	binary.LittleEndian.PutUint32(b[1:], uint32(Displacement(from, to, JmpLen)))
	return b
}

// FormatJump returns a long jmp at from to to.
func FormatJump(from, to uintptr) [JmpLen]byte {
	return formatBranch(OpJmp, from, to)
}

// FormatCall returns a call at from to to.
func FormatCall(from, to uintptr) [CallLen]byte {
	return formatBranch(OpCall, from, to)
}

func overflowsS32(v1, v2 uintptr) bool {
	d := int64(v2) - int64(v1)
	return d > 1<<31-1 || d < -1<<31
}

// Arch is the instruction set of the host.
type Arch struct {
	Name string
	// decoder mode, 32 or 64
	Mode int
}

var (
	Arch386   = Arch{Name: "386", Mode: 32}
	ArchAMD64 = Arch{Name: "amd64", Mode: 64}
)

// DecodeBranch decodes a rel32 jmp or call located at addr and returns the
// address it lands on.
func (a Arch) DecodeBranch(code []byte, addr uintptr) (uintptr, error) {
	inst, err := x86asm.Decode(code, a.Mode)
	if err != nil {
		return 0, err
	}
	if inst.Op != x86asm.JMP && inst.Op != x86asm.CALL {
		return 0, fmt.Errorf("%w: %v", ErrNotBranch, inst.Op)
	}
	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrNotBranch, inst)
	}
	return uintptr(int64(addr) + int64(inst.Len) + int64(rel)), nil
}

// EntryAddress returns the true entry of a function. Some toolchains emit a
// jump thunk per function, and taking the address of the function yields
// the thunk; one level of jmp is followed.
func (a Arch) EntryAddress(mem Memory, addr uintptr) (uintptr, error) {
	var code [JmpLen]byte
	if err := mem.ReadAt(code[:], addr); err != nil {
		return 0, err
	}
	if code[0] != OpJmp {
		return addr, nil
	}
	return a.DecodeBranch(code[:], addr)
}

// InstructionRun returns the length of the whole instructions at addr
// covering at least min bytes. Instructions addressing relative to their
// own location cannot be moved and fail with ErrRelativeAddr.
func (a Arch) InstructionRun(mem Memory, addr uintptr, min int) (int, error) {
	src := make([]byte, min+maxInstLen)
	if err := mem.ReadAt(src, addr); err != nil {
		// the run may end close to the end of the mapping
		src = src[:min]
		if err := mem.ReadAt(src, addr); err != nil {
			return 0, err
		}
	}
	n := 0
	for n < min {
		inst, err := x86asm.Decode(src[n:], a.Mode)
		if err != nil {
			return 0, fmt.Errorf("decode at %#x: %w", addr+uintptr(n), err)
		}
		if !relocatable(inst) {
			return 0, fmt.Errorf("%v at %#x: %w", inst, addr+uintptr(n), ErrRelativeAddr)
		}
		n += inst.Len
	}
	return n, nil
}

// Relocate copies the instruction run at addr covering at least min bytes.
func (a Arch) Relocate(mem Memory, addr uintptr, min int) ([]byte, error) {
	n, err := a.InstructionRun(mem, addr, min)
	if err != nil {
		return nil, err
	}
	code := make([]byte, n)
	if err := mem.ReadAt(code, addr); err != nil {
		return nil, err
	}
	return code, nil
}

func relocatable(inst x86asm.Inst) bool {
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		if mem, ok := a.(x86asm.Mem); ok {
			if mem.Base == x86asm.RIP || mem.Base == x86asm.EIP {
				return false
			}
		} else if _, ok := a.(x86asm.Rel); ok {
			return false
		}
	}
	return true
}
