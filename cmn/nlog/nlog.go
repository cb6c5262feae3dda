// Package nlog is a minimal leveled-logging wrapper used throughout aisync instead of bare
// fmt/log calls, mirroring the teacher's cmn/nlog package.
package nlog

import (
	"log"
	"os"
)

var (
	std     = log.New(os.Stderr, "", log.Ldate|log.Lmicroseconds)
	verbose int32
)

// SetVerbosity stores the global verbosity level returned by Verbosity. The logging functions
// below do not consult it: every call is written regardless of the level.
func SetVerbosity(v int32) { verbose = v }

func Verbosity() int32 { return verbose }

func Infoln(v ...any)            { std.Println(append([]any{"I "}, v...)...) }
func Infof(f string, v ...any)   { std.Printf("I "+f, v...) }
func Warningln(v ...any)         { std.Println(append([]any{"W "}, v...)...) }
func Warningf(f string, v ...any) { std.Printf("W "+f, v...) }
func Errorln(v ...any)           { std.Println(append([]any{"E "}, v...)...) }
func Errorf(f string, v ...any)  { std.Printf("E "+f, v...) }
