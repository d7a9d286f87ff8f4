package log

// Nop returns a Logger that discards everything. Constructors fall back to
// it when handed a nil logger so call sites never need a nil check.
func Nop() Logger { return nopLogger{} }

// OrNop returns l, or a discard-everything logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}

type nopLogger struct{}

func (nopLogger) Debug(...interface{})          {}
func (nopLogger) Info(...interface{})           {}
func (nopLogger) Warn(...interface{})           {}
func (nopLogger) Error(...interface{})          {}
func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
