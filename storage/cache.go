/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package storage

import "io"
import "os"
import "fmt"
import "sync"
import "compress/gzip"
import "crypto/sha256"
import "encoding/json"
import "github.com/pierrec/lz4/v4"
import "github.com/ulikunitz/xz"
import "github.com/launix-de/turbine/tb"

// The cache maps a source hash to the parsed bytecode program, so repeated
// runs of an unchanged file skip the front-end. One file per program,
// compressed with the configured codec; writes go through a uuid-named
// temp file and a rename, so readers never see a half-written entry.

type cacheEntry struct {
	Name  string `json:"name"`
	File  string `json:"file"`
	Codec string `json:"codec"`
}

var cacheIndex map[string]cacheEntry = make(map[string]cacheEntry)
var cacheMu sync.Mutex

func SourceHash(source string) string {
	hashsum := sha256.Sum256([]byte(source))
	return fmt.Sprintf("%x", hashsum[:16])
}

func indexPath() string {
	return Settings.Basepath + "/index.json"
}

// LoadIndex reads the cache index; a missing or broken index just means an
// empty cache.
func LoadIndex() {
	jsonbytes, err := os.ReadFile(indexPath())
	if err != nil {
		return
	}
	cacheMu.Lock()
	defer cacheMu.Unlock()
	json.Unmarshal(jsonbytes, &cacheIndex)
}

func SaveIndex() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if len(cacheIndex) == 0 {
		return
	}
	os.MkdirAll(Settings.Basepath, 0750)
	jsonbytes, err := json.Marshal(cacheIndex)
	if err != nil {
		panic(err)
	}
	f, err := os.Create(indexPath())
	if err != nil {
		panic(err)
	}
	defer f.Close()
	f.Write(jsonbytes)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func compressor(codec string, w io.Writer) (io.WriteCloser, error) {
	switch codec {
	case "lz4":
		return lz4.NewWriter(w), nil
	case "xz":
		zw, err := xz.NewWriter(w)
		if err != nil {
			return nil, err
		}
		return zw, nil
	case "gzip":
		return gzip.NewWriter(w), nil
	case "none", "":
		return nopWriteCloser{w}, nil
	}
	return nil, fmt.Errorf("storage: unknown codec %q", codec)
}

func decompressor(codec string, r io.Reader) (io.Reader, error) {
	switch codec {
	case "lz4":
		return lz4.NewReader(r), nil
	case "xz":
		zr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case "gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case "none", "":
		return r, nil
	}
	return nil, fmt.Errorf("storage: unknown codec %q", codec)
}

// StoreProgram persists a compiled program under its source hash.
func StoreProgram(source string, program *tb.Program) error {
	hash := SourceHash(source)
	os.MkdirAll(Settings.Basepath, 0750)

	tmp := Settings.Basepath + "/" + newUUID().String() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	zw, err := compressor(Settings.Codec, f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := json.NewEncoder(zw).Encode(program); err == nil {
		err = zw.Close()
	} else {
		zw.Close()
	}
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}

	file := hash + ".tbc"
	if err := os.Rename(tmp, Settings.Basepath+"/"+file); err != nil {
		os.Remove(tmp)
		return err
	}

	name := ""
	if program.Main >= 0 && program.Main < len(program.Functions) {
		name = program.Functions[program.Main].Name
	}
	cacheMu.Lock()
	cacheIndex[hash] = cacheEntry{Name: name, File: file, Codec: Settings.Codec}
	cacheMu.Unlock()
	return nil
}

// LoadProgram returns the cached program for a source text, or false when
// the cache has no (readable) entry.
func LoadProgram(source string) (*tb.Program, bool) {
	hash := SourceHash(source)
	cacheMu.Lock()
	entry, ok := cacheIndex[hash]
	cacheMu.Unlock()
	if !ok {
		return nil, false
	}

	f, err := os.Open(Settings.Basepath + "/" + entry.File)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	zr, err := decompressor(entry.Codec, f)
	if err != nil {
		return nil, false
	}
	var program tb.Program
	if err := json.NewDecoder(zr).Decode(&program); err != nil {
		return nil, false
	}
	return &program, true
}
