package jfr

import "fmt"

// Names of the predefined types.
const (
	TypeLabel       = "jdk.jfr.Label"
	TypeDescription = "jdk.jfr.Description"
	TypeTimestamp   = "jdk.jfr.Timestamp"

	TypeThread      = "java.lang.Thread"
	TypeThreadGroup = "java.lang.ThreadGroup"
	TypeClass       = "java.lang.Class"
	TypeClassLoader = "jdk.types.ClassLoader"
	TypeModule      = "jdk.types.Module"
	TypePackage     = "jdk.types.Package"
	TypeMethod      = "jdk.types.Method"
	TypeFrameType   = "jdk.types.FrameType"
	TypeStackFrame  = "jdk.types.StackFrame"
	TypeStackTrace  = "jdk.types.StackTrace"
)

// Fields every event type carries.
const (
	FieldStartTime   = "startTime"
	FieldEventThread = "eventThread"
	FieldStackTrace  = "stackTrace"
)

// TimestampTicks is the jdk.jfr.Timestamp value marking a tick-based time.
const TimestampTicks = "TICKS"

const annotationSupertype = "java.lang.annotation.Annotation"

// registerJDKTypes declares the predefined types. The order is not
// topological: Thread, StackFrame, Method and Class reference types declared
// after them and are bound through proxies.
func registerJDKTypes(r *Registry) {
	for _, name := range []string{TypeLabel, TypeDescription, TypeTimestamp} {
		mustRegister(r, name, func(b *TypeBuilder) {
			b.Supertype(annotationSupertype).
				WithoutConstantPool().
				AddBuiltinField("value", BuiltinString)
		})
	}

	mustRegister(r, TypeThread, func(b *TypeBuilder) {
		b.AddBuiltinField("osName", BuiltinString).
			AddBuiltinField("osThreadId", BuiltinLong).
			AddBuiltinField("javaName", BuiltinString).
			AddBuiltinField("javaThreadId", BuiltinLong).
			AddField("group", b.Type(TypeThreadGroup))
	})
	mustRegister(r, TypeThreadGroup, func(b *TypeBuilder) {
		b.AddField("parent", b.Type(TypeThreadGroup)).
			AddBuiltinField("name", BuiltinString)
	})
	mustRegister(r, TypeStackTrace, func(b *TypeBuilder) {
		b.AddBuiltinField("truncated", BuiltinBoolean).
			AddField("frames", b.Type(TypeStackFrame), Array())
	})
	mustRegister(r, TypeStackFrame, func(b *TypeBuilder) {
		b.WithoutConstantPool().
			AddField("method", b.Type(TypeMethod)).
			AddBuiltinField("lineNumber", BuiltinInt).
			AddBuiltinField("bytecodeIndex", BuiltinInt).
			AddField("type", b.Type(TypeFrameType))
	})
	mustRegister(r, TypeFrameType, func(b *TypeBuilder) {
		b.AddBuiltinField("description", BuiltinString)
	})
	mustRegister(r, TypeMethod, func(b *TypeBuilder) {
		b.AddField("type", b.Type(TypeClass)).
			AddBuiltinField("name", BuiltinString).
			AddBuiltinField("descriptor", BuiltinString).
			AddBuiltinField("modifiers", BuiltinInt).
			AddBuiltinField("hidden", BuiltinBoolean)
	})
	mustRegister(r, TypeClass, func(b *TypeBuilder) {
		b.AddField("classLoader", b.Type(TypeClassLoader)).
			AddBuiltinField("name", BuiltinString).
			AddField("package", b.Type(TypePackage)).
			AddBuiltinField("modifiers", BuiltinInt)
	})
	mustRegister(r, TypeClassLoader, func(b *TypeBuilder) {
		b.AddField("type", b.Type(TypeClass)).
			AddBuiltinField("name", BuiltinString)
	})
	mustRegister(r, TypePackage, func(b *TypeBuilder) {
		b.AddBuiltinField("name", BuiltinString).
			AddField("module", b.Type(TypeModule)).
			AddBuiltinField("exported", BuiltinBoolean)
	})
	mustRegister(r, TypeModule, func(b *TypeBuilder) {
		b.AddBuiltinField("name", BuiltinString).
			AddBuiltinField("version", BuiltinString).
			AddBuiltinField("location", BuiltinString).
			AddField("classLoader", b.Type(TypeClassLoader))
	})

	if missing := r.ResolveAll(); len(missing) > 0 {
		panic(fmt.Sprintf("jfr: predefined types left unresolved: %v", missing))
	}
}

func mustRegister(r *Registry, name string, fn func(*TypeBuilder)) {
	if _, err := r.RegisterType(name, fn); err != nil {
		panic(err)
	}
}
