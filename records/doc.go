/*
Package records is an embedded record store: typed rows addressed by string
primary keys, kept in Bolt, Badger or memory.

Tables are defined with DefineTable from typed closures and registered with a
Schema, which may change while the DB is open:

	tbl := records.DefineTable("ports", func(b *records.TableBuilder[Port]) {
		b.Key(func(p *Port) records.Key { return records.Key{p.ParentID, p.ID} })
		b.Field("parent_id", func(p *Port) string { return p.ParentID })
	})

Rows are msgpack-encoded behind a small header (format flags, schema version,
modification count, xxhash checksum) and zstd-compressed when large.

A Tx stages writes until Flush or Commit and reads its own writes. Row locks
are taken per Tx: FindByPrimaryKey locks in the requested mode, Put and
Delete lock for write. Read locks are shared and write locks exclusive; a lock
that cannot be granted fails immediately with ErrLockConflict.

Set Options.Verbose to log every operation through Options.Logf:

	db: GET ports/dh-1|7 => {"ParentID":"dh-1","ID":"7"}
	db: PUT ports/dh-1|7 => m=2 {"ParentID":"dh-1","ID":"7"}
*/
package records
