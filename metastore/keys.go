package metastore

import (
	"fmt"

	"github.com/aifs-project/aifs/model"
)

// Key layout. Each logical table owns a short prefix; secondary indexes use
// dedicated prefixes and empty values. NUL is the field separator;
// namespaces and names must not contain it, which the asset manager
// enforces before anything reaches this package.
var (
	keySchema = []byte("!schema")

	prefixAsset       = "a\x00"  // a <ns> <id>           -> Asset
	prefixAssetByID   = "ai\x00" // ai <id>               -> ns (value)
	prefixAssetByKind = "ik\x00" // ik <kind> <ns> <id>   -> ""
	prefixAssetByTime = "ic\x00" // ic <ns> <ts> <id>     -> ""
	prefixAssetByTx   = "it\x00" // it <tx> <id>          -> ""
	prefixChunk       = "c\x00"  // c <hash>              -> ChunkRef
	prefixLineageUp   = "lp\x00" // lp <child> <parent>   -> LineageEdge
	prefixLineageDown = "lc\x00" // lc <parent> <child>   -> ""
	prefixSnapshot    = "s\x00"  // s <sid>               -> Snapshot
	prefixSnapByNS    = "sn\x00" // sn <ns> <sid>         -> ""
	prefixBranch      = "b\x00"  // b <ns> <name>         -> Branch
	prefixBranchHist  = "bh\x00" // bh <ns> <name> <seq>  -> BranchEvent
	prefixBranchSeq   = "bs\x00" // bs <ns> <name>        -> last seq (value)
	prefixTag         = "t\x00"  // t <ns> <name>         -> Tag
	prefixTx          = "x\x00"  // x <txid>              -> TxRecord
	prefixNSKey       = "nk\x00" // nk <ns>               -> NamespaceKey
	prefixTrustedKey  = "tk\x00" // tk <keyid>            -> TrustedKey
)

const sep = "\x00"

func assetKey(ns string, id model.ID) []byte {
	return []byte(prefixAsset + ns + sep + id.String())
}

func assetByIDKey(id model.ID) []byte {
	return []byte(prefixAssetByID + id.String())
}

func assetByKindKey(kind model.Kind, ns string, id model.ID) []byte {
	return []byte(prefixAssetByKind + kind.String() + sep + ns + sep + id.String())
}

func assetByTimeKey(ns, ts string, id model.ID) []byte {
	return []byte(prefixAssetByTime + ns + sep + ts + sep + id.String())
}

func assetByTxKey(tx model.TxID, id model.ID) []byte {
	return []byte(prefixAssetByTx + string(tx) + sep + id.String())
}

func chunkKey(hash model.ID) []byte {
	return []byte(prefixChunk + hash.String())
}

func lineageUpKey(child, parent model.ID) []byte {
	return []byte(prefixLineageUp + child.String() + sep + parent.String())
}

func lineageDownKey(parent, child model.ID) []byte {
	return []byte(prefixLineageDown + parent.String() + sep + child.String())
}

func snapshotKey(sid model.SnapshotID) []byte {
	return []byte(prefixSnapshot + sid.String())
}

func snapshotByNSKey(ns string, sid model.SnapshotID) []byte {
	return []byte(prefixSnapByNS + ns + sep + sid.String())
}

func branchKey(ns, name string) []byte {
	return []byte(prefixBranch + ns + sep + name)
}

// branchHistSeqWidth is the zero-padded decimal width of history sequence
// numbers, chosen so lexicographic key order matches numeric order.
const branchHistSeqWidth = 20

func branchHistKey(ns, name string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s%s%s%s%0*d", prefixBranchHist, ns, sep, name, sep, branchHistSeqWidth, seq))
}

func branchSeqKey(ns, name string) []byte {
	return []byte(prefixBranchSeq + ns + sep + name)
}

func branchHistPrefix(ns, name string) []byte {
	return []byte(prefixBranchHist + ns + sep + name + sep)
}

func tagKey(ns, name string) []byte {
	return []byte(prefixTag + ns + sep + name)
}

func txKey(id model.TxID) []byte {
	return []byte(prefixTx + string(id))
}

func nsKeyKey(ns string) []byte {
	return []byte(prefixNSKey + ns)
}

func trustedKeyKey(keyID string) []byte {
	return []byte(prefixTrustedKey + keyID)
}

// lastField returns the final NUL-separated field of a key (commonly the
// hex id a secondary index entry points at).
func lastField(key []byte) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == 0 {
			return string(key[i+1:])
		}
	}
	return string(key)
}
