package fs

import "time"

// AttrType tags the dynamic type carried by an Attr value.
type AttrType int

// Recognised attribute value types.
const (
	AttrString AttrType = iota
	AttrBytes
	AttrInt64
	AttrBool
	AttrObjectPath
	AttrTime
)

// Attr is one (namespace:attribute, value) pair of a FileInfo, e.g.
// ("standard:name", "report.pdf") or ("unix:mode", int64(0644)).
type Attr struct {
	Name  string // qualified name, "namespace:attribute"
	Type  AttrType
	Str   string
	Bytes []byte
	Int   int64
	Bool  bool
	Time  time.Time
}

// Well-known qualified attribute names.
const (
	AttrStandardName        = "standard:name"
	AttrStandardDisplayName = "standard:display-name"
	AttrStandardSize        = "standard:size"
	AttrStandardType        = "standard:type"
	AttrStandardIsSymlink   = "standard:is-symlink"
	AttrTimeModified        = "time:modified"
	AttrUnixMode            = "unix:mode"
	AttrAccessCanRead       = "access:can-read"
	AttrAccessCanWrite      = "access:can-write"
)

// FileType is the value carried by AttrStandardType.
type FileType int

// Recognised file types.
const (
	FileTypeUnknown FileType = iota
	FileTypeRegular
	FileTypeDirectory
	FileTypeSymlink
	FileTypeSpecial
)

// FileInfo is an ordered, immutable attribute bag describing one
// directory entry or a stat result. It is built once by a backend via
// NewFileInfo/Set and never mutated after being handed to a job or
// enumerator.
type FileInfo struct {
	order []string
	attrs map[string]Attr
}

// NewFileInfo returns an empty FileInfo ready to be populated with
// SetString/SetInt64/etc. before being frozen by its producer.
func NewFileInfo() *FileInfo {
	return &FileInfo{attrs: make(map[string]Attr)}
}

func (fi *FileInfo) set(a Attr) {
	if _, exists := fi.attrs[a.Name]; !exists {
		fi.order = append(fi.order, a.Name)
	}
	fi.attrs[a.Name] = a
}

// SetString sets a string-valued attribute.
func (fi *FileInfo) SetString(name, value string) *FileInfo {
	fi.set(Attr{Name: name, Type: AttrString, Str: value})
	return fi
}

// SetBytes sets a bytes-valued attribute.
func (fi *FileInfo) SetBytes(name string, value []byte) *FileInfo {
	fi.set(Attr{Name: name, Type: AttrBytes, Bytes: value})
	return fi
}

// SetInt64 sets an integer-valued attribute.
func (fi *FileInfo) SetInt64(name string, value int64) *FileInfo {
	fi.set(Attr{Name: name, Type: AttrInt64, Int: value})
	return fi
}

// SetBool sets a boolean-valued attribute.
func (fi *FileInfo) SetBool(name string, value bool) *FileInfo {
	fi.set(Attr{Name: name, Type: AttrBool, Bool: value})
	return fi
}

// SetObjectPath sets an object-path-valued attribute (used for e.g.
// an enumerator session path embedded in a FileInfo).
func (fi *FileInfo) SetObjectPath(name, value string) *FileInfo {
	fi.set(Attr{Name: name, Type: AttrObjectPath, Str: value})
	return fi
}

// SetTime sets a time-valued attribute.
func (fi *FileInfo) SetTime(name string, value time.Time) *FileInfo {
	fi.set(Attr{Name: name, Type: AttrTime, Time: value})
	return fi
}

// SetAttr sets a pre-built Attr directly, used by wire decoders that
// reconstruct a FileInfo field by field.
func (fi *FileInfo) SetAttr(a Attr) *FileInfo {
	fi.set(a)
	return fi
}

// Get returns the attribute named name and whether it was present.
func (fi *FileInfo) Get(name string) (Attr, bool) {
	if fi == nil {
		return Attr{}, false
	}
	a, ok := fi.attrs[name]
	return a, ok
}

// Name is shorthand for the standard:name attribute's string value.
func (fi *FileInfo) Name() string {
	a, _ := fi.Get(AttrStandardName)
	return a.Str
}

// Size is shorthand for the standard:size attribute's integer value.
func (fi *FileInfo) Size() int64 {
	a, _ := fi.Get(AttrStandardSize)
	return a.Int
}

// Attrs returns the attributes in insertion order, the order a wire
// encoder must preserve.
func (fi *FileInfo) Attrs() []Attr {
	out := make([]Attr, 0, len(fi.order))
	for _, name := range fi.order {
		out = append(out, fi.attrs[name])
	}
	return out
}
