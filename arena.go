package hooksync

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// ErrArenaFull means the arena has no room left for a stub.
var ErrArenaFull = errors.New("stub arena full")

const stubAlign = 16

// Arena emits detour stubs into a reserved, executable range of host memory.
// Stubs call the callback gate, a host side entry that forwards the stub id
// and the saved register frame to Dispatcher.Invoke.
type Arena struct {
	mu    sync.Mutex
	mem   Memory
	arch  Arch
	gate  uintptr
	next  uintptr
	end   uintptr
	disp  *Dispatcher
	named map[string]*Stub
}

// NewArena reserves [base, base+size) of mem for stubs.
func NewArena(mem Memory, arch Arch, base uintptr, size int, gate uintptr, disp *Dispatcher) *Arena {
	return &Arena{
		mem:   mem,
		arch:  arch,
		gate:  gate,
		next:  base,
		end:   base + uintptr(size),
		disp:  disp,
		named: make(map[string]*Stub),
	}
}

func (a *Arena) Arch() Arch { return a.arch }

func (a *Arena) Memory() Memory { return a.mem }

func (a *Arena) Dispatcher() *Dispatcher { return a.disp }

// Emit writes the stub for d and registers it. A detour emitted again under
// the same name reuses its slot when the code still fits, so hooks rebuilt
// on every level load do not exhaust the arena.
func (a *Arena) Emit(d *Detour) (*Stub, error) {
	if err := CheckNullAddress(a.gate); err != nil {
		return nil, fmt.Errorf("callback gate: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var addr uintptr
	var id uint32
	prev, ok := a.named[d.Name]
	if ok {
		addr, id = prev.Addr, prev.ID
	} else {
		addr = a.next
	}
	id = a.idFor(id)
	code, err := a.arch.EmitStub(addr, a.gate, id, d)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name, err)
	}
	if ok && len(code) > prev.Len {
		addr = a.next
		if code, err = a.arch.EmitStub(addr, a.gate, id, d); err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
		ok = false
	}
	if !ok {
		if addr+uintptr(len(code)) > a.end {
			return nil, fmt.Errorf("%s: %w", d.Name, ErrArenaFull)
		}
		a.next = (addr + uintptr(len(code)) + stubAlign - 1) &^ (stubAlign - 1)
	}
	if err := AlterMemory(a.mem, addr, code, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name, err)
	}
	s := &Stub{ID: id, Addr: addr, Len: len(code), Detour: d}
	a.named[d.Name] = s
	a.disp.add(s)
	return s, nil
}

func (a *Arena) idFor(id uint32) uint32 {
	if id != 0 {
		return id
	}
	a.disp.mu.Lock()
	defer a.disp.mu.Unlock()
	id = a.disp.next
	a.disp.next++
	return id
}

// EmitStub generates the stub machine code for d placed at addr:
//
//	save registers and flags
//	call gate(id, frame)
//	restore registers and flags
//	prologue
//	epilogue, or a 5 byte slot for the jump back when d resumes
func (a Arch) EmitStub(addr, gate uintptr, id uint32, d *Detour) ([]byte, error) {
	var code []byte
	switch a.Mode {
	case 32:
		code = emit386(gate, id)
	case 64:
		code = emitAMD64(gate, id)
	default:
		return nil, fmt.Errorf("unsupported mode %d", a.Mode)
	}
	code = append(code, d.Prologue...)
	if d.Resume {
		for i := 0; i < JmpLen; i++ {
			code = append(code, OpNop)
		}
		return code, nil
	}
	if len(d.Epilogue) == 0 {
		return append(code, OpRet), nil
	}
	return append(code, d.Epilogue...), nil
}

func emit386(gate uintptr, id uint32) []byte {
	code := []byte{
		0x60, // PUSHAD
		0x9c, // PUSHFD
		0x54, // PUSH ESP
		0x68, // PUSH id
	}
	code = binary.LittleEndian.AppendUint32(code, id)
	code = append(code, 0xb8) // MOV EAX, gate
	code = binary.LittleEndian.AppendUint32(code, uint32(gate))
	code = append(code,
		0xff, 0xd0, // CALL EAX, the gate pops its two arguments
		0x9d, // POPFD
		0x61, // POPAD
	)
	return code
}

func emitAMD64(gate uintptr, id uint32) []byte {
	code := []byte{
		0x50, 0x51, 0x52, 0x53, 0x55, 0x56, 0x57, // PUSH RAX RCX RDX RBX RBP RSI RDI
		0x41, 0x50, 0x41, 0x51, 0x41, 0x52, 0x41, 0x53, // PUSH R8-R11
		0x41, 0x54, 0x41, 0x55, 0x41, 0x56, 0x41, 0x57, // PUSH R12-R15
		0x9c,             // PUSHFQ
		0x48, 0x89, 0xe2, // MOV RDX, RSP
		0xb9, // MOV ECX, id
	}
	code = binary.LittleEndian.AppendUint32(code, id)
	code = append(code,
		0x48, 0x83, 0xec, 0x28, // SUB RSP, 0x28
		0x48, 0xb8, // MOV RAX, gate
	)
	code = binary.LittleEndian.AppendUint64(code, uint64(gate))
	code = append(code,
		0xff, 0xd0, // CALL RAX
		0x48, 0x83, 0xc4, 0x28, // ADD RSP, 0x28
		0x9d,                                           // POPFQ
		0x41, 0x5f, 0x41, 0x5e, 0x41, 0x5d, 0x41, 0x5c, // POP R15-R12
		0x41, 0x5b, 0x41, 0x5a, 0x41, 0x59, 0x41, 0x58, // POP R11-R8
		0x5f, 0x5e, 0x5d, 0x5b, 0x5a, 0x59, 0x58, // POP RDI RSI RBP RBX RDX RCX RAX
	)
	return code
}
