package log

import (
	"context"
)

func (l *BaseLogger) clone() *BaseLogger {
	nl := &BaseLogger{
		level:     l.level,
		fields:    make(Fields, len(l.fields)),
		formatter: l.formatter,
		outputs:   l.outputs,
	}
	for k, v := range l.fields {
		nl.fields[k] = v
	}
	nl.slogLogger = l.slogLogger
	return nl
}

func (l *BaseLogger) log(level Level, msg string, fields ...Field) {
	if level < l.level {
		return
	}
	attrs := attrsFromFieldSlice(fields)
	l.slogLogger.LogAttrs(context.Background(), toSlogLevel(level), msg, attrs...)
}

// Debug logs at debug level with structured fields.
func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields...) }

// Info logs at info level with structured fields.
func (l *BaseLogger) Info(msg string, fields ...Field) { l.log(InfoLevel, msg, fields...) }

// Warn logs at warn level with structured fields.
func (l *BaseLogger) Warn(msg string, fields ...Field) { l.log(WarnLevel, msg, fields...) }

// Error logs at error level with structured fields.
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields...) }

// Fatal logs at fatal level with structured fields. It does not exit the
// process; callers that want process termination should do so explicitly.
func (l *BaseLogger) Fatal(msg string, fields ...Field) { l.log(FatalLevel, msg, fields...) }

func (l *BaseLogger) logf(level Level, msg string, args ...interface{}) {
	if level < l.level {
		return
	}
	attrs := argsToAttrs(args)
	l.slogLogger.LogAttrs(context.Background(), toSlogLevel(level), msg, attrs...)
}

// Debugf logs at debug level with printf-style key/value pairs.
func (l *BaseLogger) Debugf(msg string, args ...interface{}) { l.logf(DebugLevel, msg, args...) }

// Infof logs at info level with printf-style key/value pairs.
func (l *BaseLogger) Infof(msg string, args ...interface{}) { l.logf(InfoLevel, msg, args...) }

// Warnf logs at warn level with printf-style key/value pairs.
func (l *BaseLogger) Warnf(msg string, args ...interface{}) { l.logf(WarnLevel, msg, args...) }

// Errorf logs at error level with printf-style key/value pairs.
func (l *BaseLogger) Errorf(msg string, args ...interface{}) { l.logf(ErrorLevel, msg, args...) }

// Fatalf logs at fatal level with printf-style key/value pairs.
func (l *BaseLogger) Fatalf(msg string, args ...interface{}) { l.logf(FatalLevel, msg, args...) }

// WithField returns a copy of the logger with a single field added.
func (l *BaseLogger) WithField(key string, value interface{}) Logger {
	return l.With(Field{Key: key, Value: value})
}

// WithFields returns a copy of the logger with the given fields added.
func (l *BaseLogger) WithFields(fields Fields) Logger {
	fs := make([]Field, 0, len(fields))
	for k, v := range fields {
		fs = append(fs, Field{Key: k, Value: v})
	}
	return l.With(fs...)
}

// WithError returns a copy of the logger with an error field attached.
func (l *BaseLogger) WithError(err error) Logger {
	return l.With(Err(err))
}

// With returns a copy of the logger with the given fields merged in.
func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	nl := l.clone()
	attrs := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		nl.fields[f.Key] = f.Value
		attrs = append(attrs, f)
	}
	nl.slogLogger = l.slogLogger.With(attrsToAny(attrsFromFieldSlice(fields))...)
	return nl
}

// WithContext attaches request-scoped fields extracted from ctx.
func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	fields := ContextExtractor(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.WithFields(fields)
}

// WithComponent tags the logger with a component name.
func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

// SetLevel sets the minimum level this logger emits.
func (l *BaseLogger) SetLevel(level Level) { l.level = level }

// GetLevel returns the current minimum level.
func (l *BaseLogger) GetLevel() Level { return l.level }
