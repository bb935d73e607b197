package store

import (
	"sort"
	"strconv"
	"strings"
)

// Param is a single-character key of the message side table.
type Param byte

const (
	ParamCallAccepted   Param = 'a' // unix time the call was accepted
	ParamCallEnded      Param = 'e' // unix time the call ended
	ParamPlaceCallInfo  Param = 'p'
	ParamAcceptCallInfo Param = 'A'
	ParamReaction       Param = 'r' // message carries a reaction
	ParamQuote          Param = 'q' // Message-ID of the quoted message
	ParamSyncItems      Param = 's' // message carries sync items
)

// Params is the flexible key/value side table stored in msgs.param.
// The encoding is one "k=v" per line; values escape backslash, CR and LF.
type Params map[Param]string

// ParseParams decodes a stored param string. Malformed lines are skipped.
func ParseParams(s string) Params {
	p := Params{}
	for _, line := range strings.Split(s, "\n") {
		if len(line) < 2 || line[1] != '=' {
			continue
		}
		p[Param(line[0])] = unescape(line[2:])
	}
	return p
}

// String encodes the params in stable key order.
func (p Params) String() string {
	keys := make([]int, 0, len(p))
	for k := range p {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteByte(byte(k))
		b.WriteByte('=')
		b.WriteString(escape(p[Param(k)]))
	}
	return b.String()
}

func (p Params) Get(k Param) string { return p[k] }

func (p Params) Exists(k Param) bool {
	_, ok := p[k]
	return ok
}

// GetInt64 returns the value as an integer, or 0 when unset or malformed.
func (p Params) GetInt64(k Param) int64 {
	v, err := strconv.ParseInt(p[k], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (p Params) Set(k Param, v string) { p[k] = v }

func (p Params) SetInt64(k Param, v int64) { p[k] = strconv.FormatInt(v, 10) }

func (p Params) Remove(k Param) { delete(p, k) }

var (
	escaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	unescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r")
)

func escape(s string) string   { return escaper.Replace(s) }
func unescape(s string) string { return unescaper.Replace(s) }
