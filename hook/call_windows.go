//go:build windows && (amd64 || 386)

package hook

import (
	"reflect"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/0xffffa/gohooker/trampoline"
)

// NewCallbackHook diverts original to a Go function. hookFunc follows the
// rules of windows.NewCallback.
func NewCallbackHook(original uintptr, hookFunc interface{}, opts ...trampoline.Option) (*Hook, error) {
	return New(original, windows.NewCallback(hookFunc), opts...)
}

// Original returns a function of type T that calls the hooked function's
// original code through the trampoline.
func Original[T any](h *Hook) T {
	return WrapFunction[T](h.Trampoline).(T)
}

// WrapFunction makes a function of type T that calls funcAddress with the
// platform calling convention. Arguments must be integers or pointers and at
// most one integer is returned.
func WrapFunction[T any](funcAddress uintptr) interface{} {
	funcType := reflect.TypeOf((*T)(nil)).Elem()
	if funcType.Kind() != reflect.Func {
		panic("hook: non function tried to be wrapped")
	}
	if funcType.NumOut() > 1 {
		panic("hook: too many return values")
	}

	return reflect.MakeFunc(funcType, func(args []reflect.Value) []reflect.Value {
		syscallArgs := make([]uintptr, 0, len(args))
		for _, arg := range args {
			switch arg.Kind() {
			case reflect.Pointer, reflect.UnsafePointer:
				syscallArgs = append(syscallArgs, arg.Pointer())
			case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
				syscallArgs = append(syscallArgs, uintptr(arg.Uint()))
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				syscallArgs = append(syscallArgs, uintptr(arg.Int()))
			case reflect.Bool:
				if arg.Bool() {
					syscallArgs = append(syscallArgs, 1)
				} else {
					syscallArgs = append(syscallArgs, 0)
				}
			default:
				panic("hook: unknown arg type " + arg.Type().String())
			}
		}

		ret, _, _ := syscall.SyscallN(funcAddress, syscallArgs...)

		if funcType.NumOut() == 0 {
			return nil
		}
		val := reflect.New(funcType.Out(0)).Elem()
		switch val.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			val.SetUint(uint64(ret))
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			val.SetInt(int64(ret))
		case reflect.Bool:
			val.SetBool(ret != 0)
		default:
			panic("hook: not int return type")
		}
		return []reflect.Value{val}
	}).Interface()
}
