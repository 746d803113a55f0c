package headers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Pair はヘッダー名と値の組。
type Pair struct {
	// Name はヘッダー名。
	Name string `json:"name" mapstructure:"name"`
	// Value はヘッダー値。
	Value string `json:"value" mapstructure:"value"`
}

// Set は挿入順を保持するヘッダー集合。
// キーはHTTPと同様に大文字小文字を区別せず一意であり、
// 同じキーへの再設定は値と表記を後勝ちで上書きする。
type Set struct {
	// entries は挿入順のヘッダー。
	entries []Pair
	// index は小文字化したヘッダー名から entries の位置への索引。
	index map[string]int
}

// New は指定した組を順に設定したヘッダー集合を生成する。
func New(pairs ...Pair) *Set {
	s := &Set{index: make(map[string]int, len(pairs))}
	for _, p := range pairs {
		s.Set(p.Name, p.Value)
	}
	return s
}

// FromHTTP はnet/httpのヘッダーからヘッダー集合を生成する。
// 複数値のヘッダーは ", " で連結し、キーは名前順に並べる。
func FromHTTP(h http.Header) *Set {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &Set{index: make(map[string]int, len(names))}
	for _, name := range names {
		s.Set(name, strings.Join(h[name], ", "))
	}
	return s
}

// FromMap はマップからヘッダー集合を生成する。キーは名前順に並べる。
func FromMap(m map[string]string) *Set {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &Set{index: make(map[string]int, len(names))}
	for _, name := range names {
		s.Set(name, m[name])
	}
	return s
}

// Set はヘッダーを設定する。既存のキーがあれば位置を保ったまま上書きする。
func (s *Set) Set(name, value string) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	key := strings.ToLower(name)
	if i, ok := s.index[key]; ok {
		s.entries[i] = Pair{Name: name, Value: value}
		return
	}
	s.index[key] = len(s.entries)
	s.entries = append(s.entries, Pair{Name: name, Value: value})
}

// Get はヘッダー値を返す。存在しない場合は false を返す。
func (s *Set) Get(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	i, ok := s.index[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	return s.entries[i].Value, true
}

// Value はヘッダー値を返す。存在しない場合は空文字列を返す。
func (s *Set) Value(name string) string {
	v, _ := s.Get(name)
	return v
}

// Has はヘッダーが存在するかを返す。
func (s *Set) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Delete は指定したヘッダーを削除する。
func (s *Set) Delete(names ...string) {
	for _, name := range names {
		key := strings.ToLower(name)
		if i, ok := s.index[key]; ok {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			delete(s.index, key)
			s.reindex()
		}
	}
}

// reindex は entries から索引を作り直す。
func (s *Set) reindex() {
	for i, p := range s.entries {
		s.index[strings.ToLower(p.Name)] = i
	}
}

// Merge は other のヘッダーをすべて s に上書き設定する。
func (s *Set) Merge(other *Set) {
	if other == nil {
		return
	}
	for _, p := range other.entries {
		s.Set(p.Name, p.Value)
	}
}

// Len はヘッダー数を返す。
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Pairs は挿入順のヘッダーのコピーを返す。
func (s *Set) Pairs() []Pair {
	if s == nil {
		return nil
	}
	out := make([]Pair, len(s.entries))
	copy(out, s.entries)
	return out
}

// Clone はヘッダー集合の複製を返す。
func (s *Set) Clone() *Set {
	if s == nil {
		return New()
	}
	return New(s.entries...)
}

// Map はヘッダー集合をマップに変換する。
func (s *Set) Map() map[string]string {
	m := make(map[string]string, s.Len())
	if s == nil {
		return m
	}
	for _, p := range s.entries {
		m[p.Name] = p.Value
	}
	return m
}

// MarshalJSON は挿入順を保ったJSONオブジェクトに変換する。
func (s *Set) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if s != nil {
		for i, p := range s.entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			name, err := json.Marshal(p.Name)
			if err != nil {
				return nil, err
			}
			value, err := json.Marshal(p.Value)
			if err != nil {
				return nil, err
			}
			buf.Write(name)
			buf.WriteByte(':')
			buf.Write(value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON はJSONオブジェクトをキーの出現順に読み込む。
// 値は文字列である必要がある。
func (s *Set) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("ヘッダーJSONの読み込みに失敗: %w", err)
	}
	if tok == nil {
		*s = *New()
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("ヘッダーJSONはオブジェクトである必要があります")
	}

	parsed := New()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("ヘッダー名の読み込みに失敗: %w", err)
		}
		name, _ := keyTok.(string)

		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("ヘッダー %q の値が文字列ではありません: %w", name, err)
		}
		parsed.Set(name, value)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("ヘッダーJSONの読み込みに失敗: %w", err)
	}

	*s = *parsed
	return nil
}
