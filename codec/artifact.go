package codec

import (
	"archive/zip"
	"bytes"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/aifs-project/aifs/model"
	"lukechampine.com/blake3"
)

// ArtifactFile is one manifest entry of an artifact.
type ArtifactFile struct {
	Path string
	Size uint64
	MIME string
	// ContentHash is the BLAKE3-256 of the file's uncompressed bytes.
	ContentHash model.ID
}

// ArtifactManifest describes an artifact payload.
type ArtifactManifest struct {
	Name         string
	Version      string
	Files        []ArtifactFile
	Dependencies []string
}

// Artifact is the decoded form: the manifest plus the raw ZIP bytes. File
// contents are read lazily so unreferenced entries are never decompressed.
type Artifact struct {
	Manifest ArtifactManifest

	zipData []byte
	reader  *zip.Reader
}

// Artifact manifest wire schema (field numbers are frozen):
//
//	1: name       (bytes)
//	2: version    (bytes)
//	3: file entry (bytes: nested 1=path 2=size 3=mime 4=content_hash)
//	4: dependency (bytes)
const (
	artifactFieldName    = 1
	artifactFieldVersion = 2
	artifactFieldFile    = 3
	artifactFieldDep     = 4
)

// EncodeArtifact frames an artifact payload: a varint manifest length, the
// protowire-encoded manifest, then the ZIP bytes.
func EncodeArtifact(m ArtifactManifest, zipData []byte) ([]byte, error) {
	if _, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData))); err != nil {
		return nil, malformed("artifact payload is not a zip archive: %v", err)
	}
	man := encodeManifest(m)
	buf := protowire.AppendVarint(nil, uint64(len(man)))
	buf = append(buf, man...)
	buf = append(buf, zipData...)
	return buf, nil
}

// DecodeArtifact parses an artifact payload and verifies that every
// manifest entry resolves to a ZIP entry of the declared size. Contents are
// not decompressed here.
func DecodeArtifact(data []byte) (*Artifact, error) {
	manLen, n := protowire.ConsumeVarint(data)
	if n < 0 || manLen > uint64(len(data)-n) {
		return nil, malformed("artifact manifest frame truncated")
	}
	m, err := decodeManifest(data[n : n+int(manLen)])
	if err != nil {
		return nil, err
	}
	zipData := data[n+int(manLen):]
	zr, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, malformed("artifact payload is not a zip archive: %v", err)
	}

	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}
	for _, mf := range m.Files {
		zf, ok := entries[mf.Path]
		if !ok {
			return nil, malformed("artifact manifest names %q but the archive has no such entry", mf.Path)
		}
		if zf.UncompressedSize64 != mf.Size {
			return nil, malformed("artifact entry %q is %d bytes, manifest says %d", mf.Path, zf.UncompressedSize64, mf.Size)
		}
	}

	return &Artifact{Manifest: m, zipData: zipData, reader: zr}, nil
}

// Entries returns the archive entry names without decompressing anything.
func (a *Artifact) Entries() []string {
	names := make([]string, 0, len(a.reader.File))
	for _, f := range a.reader.File {
		names = append(names, f.Name)
	}
	return names
}

// ReadFile decompresses a single entry and verifies its manifest content
// hash when one is declared.
func (a *Artifact) ReadFile(path string) ([]byte, error) {
	var mf *ArtifactFile
	for i := range a.Manifest.Files {
		if a.Manifest.Files[i].Path == path {
			mf = &a.Manifest.Files[i]
			break
		}
	}
	for _, f := range a.reader.File {
		if f.Name != path {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, malformed("artifact entry %q: %v", path, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, malformed("artifact entry %q: %v", path, err)
		}
		if mf != nil && !mf.ContentHash.IsZero() {
			if got := model.ID(blake3.Sum256(data)); got != mf.ContentHash {
				return nil, malformed("artifact entry %q content hash mismatch", path)
			}
		}
		return data, nil
	}
	return nil, malformed("artifact has no entry %q", path)
}

func encodeManifest(m ArtifactManifest) []byte {
	var b []byte
	b = protowire.AppendTag(b, artifactFieldName, protowire.BytesType)
	b = protowire.AppendString(b, m.Name)
	b = protowire.AppendTag(b, artifactFieldVersion, protowire.BytesType)
	b = protowire.AppendString(b, m.Version)
	for _, f := range m.Files {
		var e []byte
		e = protowire.AppendTag(e, 1, protowire.BytesType)
		e = protowire.AppendString(e, f.Path)
		e = protowire.AppendTag(e, 2, protowire.VarintType)
		e = protowire.AppendVarint(e, f.Size)
		e = protowire.AppendTag(e, 3, protowire.BytesType)
		e = protowire.AppendString(e, f.MIME)
		e = protowire.AppendTag(e, 4, protowire.BytesType)
		e = protowire.AppendBytes(e, f.ContentHash[:])
		b = protowire.AppendTag(b, artifactFieldFile, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	for _, d := range m.Dependencies {
		b = protowire.AppendTag(b, artifactFieldDep, protowire.BytesType)
		b = protowire.AppendString(b, d)
	}
	return b
}

func decodeManifest(data []byte) (ArtifactManifest, error) {
	var m ArtifactManifest
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 || typ != protowire.BytesType {
			return m, malformed("artifact manifest tag")
		}
		data = data[n:]
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return m, malformed("artifact manifest field %d", num)
		}
		switch num {
		case artifactFieldName:
			m.Name = string(v)
		case artifactFieldVersion:
			m.Version = string(v)
		case artifactFieldFile:
			f, err := decodeManifestFile(v)
			if err != nil {
				return m, err
			}
			m.Files = append(m.Files, f)
		case artifactFieldDep:
			m.Dependencies = append(m.Dependencies, string(v))
		}
		data = data[n:]
	}
	return m, nil
}

func decodeManifestFile(data []byte) (ArtifactFile, error) {
	var f ArtifactFile
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return f, malformed("artifact file entry tag")
		}
		data = data[n:]
		switch {
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return f, malformed("artifact file size")
			}
			f.Size = v
			data = data[n:]
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return f, malformed("artifact file entry field %d", num)
			}
			switch num {
			case 1:
				f.Path = string(v)
			case 3:
				f.MIME = string(v)
			case 4:
				if len(v) != model.IDSize {
					return f, malformed("artifact file content hash is %d bytes", len(v))
				}
				copy(f.ContentHash[:], v)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return f, malformed("artifact file entry field %d", num)
			}
			data = data[n:]
		}
	}
	return f, nil
}
