// Package uri implements the canonical AIFS identifier schemes:
//
//	aifs://<namespace>/<asset_id>[.<kind>]
//	aifs-snap://<namespace>/<snapshot_id>
package uri

import (
	"fmt"
	"strings"

	"github.com/aifs-project/aifs/model"
)

const (
	// SchemeAsset is the URI scheme for assets.
	SchemeAsset = "aifs"
	// SchemeSnapshot is the URI scheme for snapshots.
	SchemeSnapshot = "aifs-snap"
)

// AssetURI is a parsed aifs:// identifier.
type AssetURI struct {
	Namespace string
	AssetID   model.ID
	// Kind is the optional kind suffix; empty when absent.
	Kind string
}

// String renders the URI in canonical form.
func (u AssetURI) String() string {
	s := fmt.Sprintf("%s://%s/%s", SchemeAsset, u.Namespace, u.AssetID)
	if u.Kind != "" {
		s += "." + u.Kind
	}
	return s
}

// SnapshotURI is a parsed aifs-snap:// identifier.
type SnapshotURI struct {
	Namespace string
	Snapshot  model.SnapshotID
}

// String renders the URI in canonical form.
func (u SnapshotURI) String() string {
	return fmt.Sprintf("%s://%s/%s", SchemeSnapshot, u.Namespace, u.Snapshot)
}

// FormatAsset builds the canonical URI for an asset.
func FormatAsset(namespace string, id model.ID) string {
	return AssetURI{Namespace: namespace, AssetID: id}.String()
}

// FormatSnapshot builds the canonical URI for a snapshot.
func FormatSnapshot(namespace string, id model.SnapshotID) string {
	return SnapshotURI{Namespace: namespace, Snapshot: id}.String()
}

// ParseAsset parses an aifs:// URI.
func ParseAsset(s string) (AssetURI, error) {
	var u AssetURI
	ns, rest, err := split(s, SchemeAsset)
	if err != nil {
		return u, err
	}
	idPart := rest
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		idPart, u.Kind = rest[:i], rest[i+1:]
		if _, err := model.ParseKind(u.Kind); err != nil {
			return AssetURI{}, fmt.Errorf("parse %q: %w", s, err)
		}
	}
	id, err := model.ParseID(idPart)
	if err != nil {
		return AssetURI{}, fmt.Errorf("parse %q: %w", s, err)
	}
	u.Namespace = ns
	u.AssetID = id
	return u, nil
}

// ParseSnapshot parses an aifs-snap:// URI.
func ParseSnapshot(s string) (SnapshotURI, error) {
	var u SnapshotURI
	ns, rest, err := split(s, SchemeSnapshot)
	if err != nil {
		return u, err
	}
	sid, err := model.ParseSnapshotID(rest)
	if err != nil {
		return u, fmt.Errorf("parse %q: %w", s, err)
	}
	u.Namespace = ns
	u.Snapshot = sid
	return u, nil
}

func split(s, scheme string) (namespace, rest string, err error) {
	prefix := scheme + "://"
	if !strings.HasPrefix(s, prefix) {
		return "", "", fmt.Errorf("parse %q: scheme is not %s", s, scheme)
	}
	body := s[len(prefix):]
	i := strings.IndexByte(body, '/')
	if i <= 0 || i == len(body)-1 {
		return "", "", fmt.Errorf("parse %q: want %s://<namespace>/<id>", s, scheme)
	}
	return body[:i], body[i+1:], nil
}
