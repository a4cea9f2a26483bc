package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andreyvit/confstore"
	"github.com/andreyvit/confstore/node"
	"github.com/andreyvit/confstore/nodeid"
	"github.com/andreyvit/confstore/records"
	"github.com/andreyvit/confstore/schema"
	"github.com/andreyvit/confstore/xmlblob"
)

func (a *app) readDB(f func(tx *records.Tx) error) error {
	db, err := confstore.OpenDB(a.cfg, nil, a.logger)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Read(f)
}

func (a *app) tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List stored tables with row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.readDB(func(tx *records.Tx) error {
				names, err := tx.Buckets()
				if err != nil {
					return err
				}
				for _, name := range names {
					st := tx.BucketStats(name)
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", name, st.Rows)
				}
				return nil
			})
		},
	}
}

func (a *app) dumpCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "dump [table...]",
		Short: "Print stored rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.readDB(func(tx *records.Tx) error {
				if !asJSON && len(args) == 0 {
					return tx.Dump(cmd.OutOrStdout(), records.DumpAll)
				}
				names := args
				if len(names) == 0 {
					var err error
					names, err = tx.Buckets()
					if err != nil {
						return err
					}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, name := range names {
					err := tx.ForEachRaw(name, func(r records.RawRow) error {
						v, err := r.Generic()
						if err != nil {
							return err
						}
						return enc.Encode(dumpedRow{Table: name, Key: r.Key, Row: v})
					})
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per row")
	return cmd
}

type dumpedRow struct {
	Table string      `json:"table"`
	Key   records.Key `json:"key"`
	Row   any         `json:"row"`
}

func (a *app) catalog(fn string) (*schema.MemCatalog, error) {
	if fn == "" {
		fn = a.cfg.Catalog
	}
	if fn == "" {
		return nil, errors.New("no catalog file: pass --catalog or set catalog in the config")
	}
	return schema.LoadYAMLFile(fn)
}

func (a *app) schemaCmd() *cobra.Command {
	var catalogFile string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema tree of a catalog file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog(catalogFile)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			cat.Walk(func(p schema.Path, kind schema.Kind, depth int) {
				line := strings.Repeat("  ", depth) + p.Last().Local + " " + kind.String()
				if keys := cat.KeyDefinitionOf(p); len(keys) > 0 {
					line += fmt.Sprintf(" %v", localNames(keys))
				}
				if cat.IsOrderedByUser(p) {
					line += " ordered-by-user"
				}
				if cat.IsIdentityRef(p) {
					line += " identityref"
				}
				fmt.Fprintln(w, line)
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "YAML catalog file")
	return cmd
}

func localNames(qs []schema.QName) []string {
	result := make([]string, len(qs))
	for i, q := range qs {
		result[i] = q.Local
	}
	return result
}

func (a *app) blobCmd() *cobra.Command {
	var catalogFile, pathStr, idStr string
	cmd := &cobra.Command{
		Use:   "blob --path PATH FILE",
		Short: "Parse a stored-parent blob and print its node tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog(catalogFile)
			if err != nil {
				return err
			}
			path, err := schema.ParsePath(pathStr)
			if err != nil {
				return err
			}
			if path.IsRoot() || cat.Kind(path) == schema.KindUnknown {
				return fmt.Errorf("%v is not in the catalog", path)
			}
			root, err := blobRoot(cat, path, idStr)
			if err != nil {
				return err
			}
			blob, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			m := &xmlblob.Marshaller{Catalog: cat}
			if err := m.Load(blob, root); err != nil {
				return err
			}
			a.logger.Debug("parsed blob", "path", path.String(), "bytes", len(blob))
			return node.Fprint(cmd.OutOrStdout(), root)
		},
	}
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "YAML catalog file")
	cmd.Flags().StringVar(&pathStr, "path", "", "schema path of the stored-parent")
	cmd.Flags().StringVar(&idStr, "id", "", "node id of the stored-parent (needed for list entries)")
	cmd.MarkFlagRequired("path")
	return cmd
}

// blobRoot makes the stored-parent node that a blob is loaded into. Without
// an id, every step of path is taken to be unkeyed.
func blobRoot(cat schema.Catalog, path schema.Path, idStr string) (*node.Node, error) {
	if idStr == "" {
		id := nodeid.Root
		for _, q := range path.Components() {
			id = id.Container(q)
		}
		n := node.New(path, nodeid.Key{})
		n.SetID(id)
		return n, nil
	}
	id, err := nodeid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	if err := nodeid.Validate(cat, path, id); err != nil {
		return nil, err
	}
	key, err := nodeid.KeyFromID(cat, path, id)
	if err != nil {
		return nil, err
	}
	n := node.New(path, key)
	n.SetID(id)
	return n, nil
}
