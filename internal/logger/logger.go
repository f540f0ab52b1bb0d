/**
 * @description
 * Logger for the MarginWatch backend.
 * Keeps info messages on stdout and errors on stderr so hosted log collectors
 * classify the streams correctly.
 *
 * @dependencies
 * - standard "log", "os", "fmt"
 */

package logger

import (
	"fmt"
	"log"
	"os"
)

var (
	infoLogger  = log.New(os.Stdout, "", 0)
	errorLogger = log.New(os.Stderr, "", 0)
)

// Info logs an info message to stdout
func Info(format string, v ...interface{}) {
	infoLogger.Println(fmt.Sprintf(format, v...))
}

// Error logs an error message to stderr
func Error(format string, v ...interface{}) {
	errorLogger.Println(fmt.Sprintf(format, v...))
}

// Fatal logs an error and exits
func Fatal(format string, v ...interface{}) {
	errorLogger.Fatalln(fmt.Sprintf(format, v...))
}
