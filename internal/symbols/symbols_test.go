package symbols

import (
	"bytes"
	"errors"
	"os"
	"runtime"
	"testing"
)

func TestReadSymbolsOfTestBinary(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("test binary is not ELF")
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	syms, err := ReadSymbols(exe)
	if err != nil {
		// go test may link without a symbol table
		t.Skipf("ReadSymbols: %v", err)
	}
	if addr, ok := syms["main.main"]; !ok || addr == 0 {
		t.Errorf("main.main not resolved: %#x, %v", addr, ok)
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	if _, err := Read(bytes.NewReader([]byte("not an object file"))); !errors.Is(err, ErrUnrecognized) {
		t.Errorf("got %v, want ErrUnrecognized", err)
	}
}
