// Package iocli абстрагирует ввод-вывод консольного клиента.
package iocli

import "io"

// IO консольный ввод-вывод клиента
type IO interface {
	io.Writer
	Println(a ...any)
	Printf(format string, a ...any)
	ReadInput(prompt string) (string, error)
	// ReadSecret читает строку без эха, если ввод - терминал
	ReadSecret(prompt string) (string, error)
}
