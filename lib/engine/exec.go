package engine

import (
	"math"
	"strconv"

	"github.com/sablekv/sable/lib/ds/buffer"
	"github.com/sablekv/sable/lib/ds/hmap"
	"github.com/sablekv/sable/lib/ds/zset"
	"github.com/sablekv/sable/rpc/proto"
)

// emptyZSet is what reads see for a missing sorted-set key. Never written.
var emptyZSet zset.ZSet

// Exec runs one parsed command and appends a complete response frame to
// out. The command strings may alias the connection's incoming buffer; any
// retained bytes are copied.
func (db *DB) Exec(cmd [][]byte, out *buffer.Buffer) {
	ctx := proto.BeginResponse(out)
	db.dispatch(cmd, out)
	proto.EndResponse(out, ctx)
}

func (db *DB) dispatch(cmd [][]byte, out *buffer.Buffer) {
	if len(cmd) == 0 {
		proto.OutErr(out, proto.ErrUnknown, "unknown command.")
		return
	}
	name := string(cmd[0])
	switch {
	case len(cmd) == 2 && name == "get":
		db.doGet(cmd, out)
	case len(cmd) == 3 && name == "set":
		db.doSet(cmd, out)
	case len(cmd) == 2 && name == "del":
		db.doDel(cmd, out)
	case len(cmd) == 1 && name == "keys":
		db.doKeys(cmd, out)
	case len(cmd) == 4 && name == "zadd":
		db.doZAdd(cmd, out)
	case len(cmd) == 3 && name == "zrem":
		db.doZRem(cmd, out)
	case len(cmd) == 3 && name == "zscore":
		db.doZScore(cmd, out)
	case len(cmd) == 6 && name == "zquery":
		db.doZQuery(cmd, out, false)
	case len(cmd) == 6 && name == "zqueryr":
		db.doZQuery(cmd, out, true)
	case len(cmd) == 6 && name == "zcount":
		db.doZCount(cmd, out)
	case len(cmd) == 3 && name == "zrank":
		db.doZRank(cmd, out)
	case len(cmd) == 3 && name == "pexpire":
		db.doPExpire(cmd, out)
	case len(cmd) == 2 && name == "pttl":
		db.doPTTL(cmd, out)
	default:
		proto.OutErr(out, proto.ErrUnknown, "unknown command.")
	}
}

func parseDbl(s []byte) (float64, bool) {
	v, err := strconv.ParseFloat(string(s), 64)
	return v, err == nil && !math.IsNaN(v)
}

func parseInt(s []byte) (int64, bool) {
	v, err := strconv.ParseInt(string(s), 10, 64)
	return v, err == nil
}

func (db *DB) doGet(cmd [][]byte, out *buffer.Buffer) {
	ent := db.lookup(cmd[1])
	if ent == nil {
		proto.OutNil(out)
		return
	}
	if ent.typ != typeStr {
		proto.OutErr(out, proto.ErrBadTyp, "not a string value")
		return
	}
	proto.OutStr(out, ent.str)
}

func (db *DB) doSet(cmd [][]byte, out *buffer.Buffer) {
	if ent := db.lookup(cmd[1]); ent != nil {
		if ent.typ != typeStr {
			proto.OutErr(out, proto.ErrBadTyp, "a non-string value exists")
			return
		}
		ent.str = append([]byte(nil), cmd[2]...)
	} else {
		ent := newEntry(string(cmd[1]), hmap.Hash(cmd[1]), typeStr)
		ent.str = append([]byte(nil), cmd[2]...)
		db.index.Insert(&ent.node)
	}
	proto.OutNil(out)
}

func (db *DB) doDel(cmd [][]byte, out *buffer.Buffer) {
	ent := db.detach(cmd[1])
	if ent != nil {
		db.destroyEntry(ent)
	}
	proto.OutInt(out, boolToInt(ent != nil))
}

func (db *DB) doKeys(_ [][]byte, out *buffer.Buffer) {
	proto.OutArr(out, uint32(db.index.Size()))
	db.index.ForEach(func(node *hmap.Node[*Entry]) bool {
		proto.OutStr(out, []byte(node.Ref.key))
		return true
	})
}

func (db *DB) doZAdd(cmd [][]byte, out *buffer.Buffer) {
	score, ok := parseDbl(cmd[2])
	if !ok {
		proto.OutErr(out, proto.ErrBadArg, "expect float")
		return
	}

	// look up or create the zset
	var ent *Entry
	if ent = db.lookup(cmd[1]); ent == nil {
		ent = newEntry(string(cmd[1]), hmap.Hash(cmd[1]), typeZSet)
		db.index.Insert(&ent.node)
	} else if ent.typ != typeZSet {
		proto.OutErr(out, proto.ErrBadTyp, "expect zset")
		return
	}

	added := ent.set.Insert(cmd[3], score)
	proto.OutInt(out, boolToInt(added))
}

// expectZSet resolves a read command's zset argument. A missing key reads
// as an empty set; a key of the wrong type reads as nil.
func (db *DB) expectZSet(key []byte) *zset.ZSet {
	ent := db.lookup(key)
	if ent == nil {
		return &emptyZSet
	}
	if ent.typ != typeZSet {
		return nil
	}
	return &ent.set
}

func (db *DB) doZRem(cmd [][]byte, out *buffer.Buffer) {
	set := db.expectZSet(cmd[1])
	if set == nil {
		proto.OutErr(out, proto.ErrBadTyp, "expect zset")
		return
	}
	node := set.Lookup(cmd[2])
	if node != nil {
		set.Delete(node)
	}
	proto.OutInt(out, boolToInt(node != nil))
}

func (db *DB) doZScore(cmd [][]byte, out *buffer.Buffer) {
	set := db.expectZSet(cmd[1])
	if set == nil {
		proto.OutErr(out, proto.ErrBadTyp, "expect zset")
		return
	}
	node := set.Lookup(cmd[2])
	if node == nil {
		proto.OutNil(out)
		return
	}
	proto.OutDbl(out, node.Score)
}

func (db *DB) doZQuery(cmd [][]byte, out *buffer.Buffer, reverse bool) {
	score, ok := parseDbl(cmd[2])
	if !ok {
		proto.OutErr(out, proto.ErrBadArg, "expect fp number")
		return
	}
	name := cmd[3]
	offset, ok1 := parseInt(cmd[4])
	limit, ok2 := parseInt(cmd[5])
	if !ok1 || !ok2 {
		proto.OutErr(out, proto.ErrBadArg, "expect int")
		return
	}

	set := db.expectZSet(cmd[1])
	if set == nil {
		proto.OutErr(out, proto.ErrBadTyp, "expect zset")
		return
	}

	if limit <= 0 {
		proto.OutArr(out, 0)
		return
	}

	var node *zset.ZNode
	step := int64(1)
	if reverse {
		node = zset.Offset(set.SeekLE(score, name), -offset)
		step = -1
	} else {
		node = zset.Offset(set.SeekGE(score, name), offset)
	}

	ctx := proto.BeginArr(out)
	n := int64(0)
	for node != nil && n < limit {
		proto.OutStr(out, node.Name)
		proto.OutDbl(out, node.Score)
		node = zset.Offset(node, step)
		n += 2
	}
	proto.EndArr(out, ctx, uint32(n))
}

func (db *DB) doZCount(cmd [][]byte, out *buffer.Buffer) {
	loScore, ok := parseDbl(cmd[2])
	if !ok {
		proto.OutErr(out, proto.ErrBadArg, "expect float")
		return
	}
	hiScore, ok := parseDbl(cmd[4])
	if !ok {
		proto.OutErr(out, proto.ErrBadArg, "expect float")
		return
	}

	set := db.expectZSet(cmd[1])
	if set == nil {
		proto.OutErr(out, proto.ErrBadTyp, "expect zset")
		return
	}
	proto.OutInt(out, set.Count(loScore, cmd[3], hiScore, cmd[5]))
}

func (db *DB) doZRank(cmd [][]byte, out *buffer.Buffer) {
	set := db.expectZSet(cmd[1])
	if set == nil {
		proto.OutErr(out, proto.ErrBadTyp, "expect zset")
		return
	}
	node := set.Lookup(cmd[2])
	if node == nil {
		proto.OutNil(out)
		return
	}
	proto.OutInt(out, zset.Rank(node))
}

func (db *DB) doPExpire(cmd [][]byte, out *buffer.Buffer) {
	ttlMs, ok := parseInt(cmd[2])
	if !ok {
		proto.OutErr(out, proto.ErrBadArg, "expect int64")
		return
	}
	ent := db.lookup(cmd[1])
	if ent != nil {
		db.setTTL(ent, ttlMs)
	}
	proto.OutInt(out, boolToInt(ent != nil))
}

func (db *DB) doPTTL(cmd [][]byte, out *buffer.Buffer) {
	ent := db.lookup(cmd[1])
	if ent == nil {
		proto.OutInt(out, -2)
		return
	}
	if ent.heapIdx == noTTL {
		proto.OutInt(out, -1)
		return
	}
	expireAt := db.ttl.At(ent.heapIdx).Val
	nowMs := db.now()
	remaining := int64(0)
	if expireAt > nowMs {
		remaining = int64(expireAt - nowMs)
	}
	proto.OutInt(out, remaining)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
