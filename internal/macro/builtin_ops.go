package macro

import (
	"bytes"
	"io"
	"os"
	"strings"
)

// Compression identifies the format sniffed by %{uncompress:...}.
type Compression int

// Compression formats, in the order they are reported.
const (
	CompressionNone Compression = iota
	CompressionGzip             // gzip and the other 037-prefixed formats
	CompressionBzip2
	CompressionZip
)

var (
	magicBzip2 = []byte("BZ")
	magicZip   = []byte{'P', 'K', 0o003, 0o004}
)

// SniffCompression inspects the first four bytes of r.
func SniffCompression(r io.Reader) (Compression, error) {
	magic := make([]byte, 4)
	n, err := io.ReadFull(r, magic)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return CompressionNone, err
	}
	if n < len(magic) {
		return CompressionNone, nil
	}
	switch {
	case bytes.HasPrefix(magic, magicBzip2):
		return CompressionBzip2, nil
	case bytes.Equal(magic, magicZip):
		return CompressionZip, nil
	case magic[0] == 0o037:
		switch magic[1] {
		case 0o213, 0o236, 0o036, 0o240, 0o235:
			return CompressionGzip, nil
		}
	}
	return CompressionNone, nil
}

// sniffFile returns the compression of path. Unreadable files count as
// uncompressed; the error is returned for logging only.
func sniffFile(path string) (Compression, error) {
	f, err := os.Open(path)
	if err != nil {
		return CompressionNone, err
	}
	defer f.Close()
	return SniffCompression(f)
}

// uncompressCommand returns the macro text that decompresses the first word
// of arg to stdout.
func uncompressCommand(arg string) (string, error) {
	words := splitWords(arg)
	file := ""
	if len(words) > 0 {
		file = words[0]
	}
	kind, err := sniffFile(file)
	switch kind {
	case CompressionGzip:
		return "%_gzip -dc " + file, err
	case CompressionBzip2:
		return "%_bzip2 " + file, err
	case CompressionZip:
		return "%_unzip " + file, err
	default:
		return "%_cat " + file, err
	}
}

// URLPath returns the path portion of a file, http or ftp URL. Other text is
// returned unchanged, except that a leading '-' (stdin) yields "".
func URLPath(url string) string {
	if _, p, ok := splitURL(url); ok {
		return p
	}
	if strings.HasPrefix(url, "-") {
		return ""
	}
	return url
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// transform applies the text rewrite of a transforming built-in to its
// already expanded argument. ok is false when the built-in produces nothing.
func (x *state) transform(b Builtin, negate bool, arg string) (out string, ok bool) {
	switch b {
	case BuiltinBasename:
		if i := strings.LastIndexByte(arg, '/'); i >= 0 {
			return arg[i+1:], true
		}
		return arg, true
	case BuiltinSuffix:
		if i := strings.LastIndexByte(arg, '.'); i >= 0 {
			return arg[i+1:], true
		}
		return "", false
	case BuiltinExpand:
		return arg, true
	case BuiltinVerbose:
		if x.opts.Verbose != negate {
			return arg, true
		}
		return "", false
	case BuiltinURL2Path:
		p := URLPath(arg)
		if p == "" {
			p = "/"
		}
		return p, true
	case BuiltinUncompress:
		cmd, err := uncompressCommand(arg)
		if err != nil {
			x.log.Debug("uncompress could not sniff file", "arg", arg, "error", err)
		}
		return cmd, true
	case BuiltinSource:
		if isDigits(arg) {
			return "%SOURCE" + arg, true
		}
		return arg, true
	case BuiltinPatch:
		if isDigits(arg) {
			return "%PATCH" + arg, true
		}
		return arg, true
	case BuiltinFile:
		return "file" + arg + ".file", true
	}
	return "", false
}
