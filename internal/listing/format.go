package listing

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// TimestampLayout is the DOS-style date and time columns of a listing line.
const TimestampLayout = "01-02-06  03:04PM"

// FormatLine renders an entry in the layout accepted by Parse. Session
// adapters whose protocol returns structured entries use it so every remote
// kind feeds the same parser.
func FormatLine(modTime time.Time, isDir bool, size uint64, name string) string {
	column := DirMarker
	if !isDir {
		column = fmt.Sprintf("%d", size)
	}
	return fmt.Sprintf("%s %20s %s", modTime.Format(TimestampLayout), column, name)
}

// Formattable reports whether name survives FormatLine and Parse unchanged.
// The grammar absorbs leading whitespace into the column separator and a
// line cannot hold a line break.
func Formattable(name string) bool {
	if name == "" || strings.ContainsAny(name, "\r\n") {
		return false
	}
	return !unicode.IsSpace(rune(name[0]))
}
