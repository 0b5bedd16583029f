package main

type exitCodeError struct {
	code  int
	msg   string
	quiet bool
}

func (e *exitCodeError) Error() string {
	return e.msg
}

func (e *exitCodeError) ExitCode() int {
	return e.code
}

func (e *exitCodeError) Quiet() bool {
	return e.quiet
}

func usageError(err error) error {
	if err == nil {
		return nil
	}
	return &exitCodeError{code: 2, msg: err.Error()}
}
