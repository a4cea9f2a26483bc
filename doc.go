/*
Package confstore persists schema-driven configuration trees.

Every node of a configuration tree sits at a schema path. The registry
decides how each path is stored:

1. Columnar paths have a record type of their own. Every node is one record
keyed by its parent's id and its list keys.

2. Stored-parent paths are columnar paths whose record also carries a blob.
The blob holds, as XML, the whole subtree below the node that has no record
type of its own.

3. Blob-backed paths have no record type. Their nodes live in the blob of the
nearest stored-parent ancestor.

A Store routes every operation to the right backend. Callers work through
a Session, which pairs a record transaction with a scope: the first read of
a stored-parent parses its blob, and every later read in the same session
sees the same live nodes, including uncommitted changes. EndModify
serializes each changed stored-parent once, commits, and reports the
changes to Options.OnChange.

# Technical Details

**Ids.**
A node id is the chain of steps from the root, e.g.
/{urn:example:dh}device-holder[name='a']/ports/port[id='1']. The record key of
a columnar node is its parent id followed by its key values.

**Locks.**
Reads take shared record locks and writes exclusive ones, held until the
session ends. A conflicting request fails at once with a Contention error;
nothing is retried.

**Absence.**
Missing nodes come back as nil or an empty slice, never as an error. Errors
carry a storeerr.Kind, the operation, the schema path and the node id.
*/
package confstore
