package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/eval"
	"github.com/lattice-db/lattice/internal/frame"
	"github.com/lattice-db/lattice/internal/parser"
	"github.com/lattice-db/lattice/internal/rbac"
	"github.com/lattice-db/lattice/internal/storage"
	"github.com/lattice-db/lattice/internal/tvf"
	"github.com/lattice-db/lattice/internal/types"
)

// buildSource resolves a FROM clause's full join chain into one combined
// frame (the pipeline's Source stage).
func (e *Engine) buildSource(ctx *selCtx, from *ast.FromItem, deadline time.Time) (*frame.Frame, error) {
	left, leftQual, err := e.resolveFromItem(ctx, from, deadline)
	if err != nil {
		return nil, err
	}
	cur := from
	for cur.Next != nil {
		right, rightQual, err := e.resolveFromItem(ctx, cur.Next, deadline)
		if err != nil {
			return nil, err
		}
		left, err = e.joinFrames(ctx, left, leftQual, right, rightQual, cur.Next)
		if err != nil {
			return nil, err
		}
		leftQual = "" // combined frame already carries qualified names for both sides
		cur = cur.Next
	}
	return left, nil
}

// resolveFromItem resolves a single FROM item (base table, view, derived
// table, CTE reference, or TVF) into a frame plus the qualifier later used
// to disambiguate its columns in a join.
func (e *Engine) resolveFromItem(ctx *selCtx, item *ast.FromItem, deadline time.Time) (*frame.Frame, string, error) {
	switch {
	case item.Subquery != nil:
		f, err := e.runSelectWithCtx(ctx, item.Subquery, deadline)
		if err != nil {
			return nil, "", err
		}
		return f, item.Alias, nil

	case item.TVF != nil:
		f, err := e.resolveTVF(ctx, item.TVF)
		if err != nil {
			return nil, "", err
		}
		return f, item.Alias, nil

	case item.Table != nil:
		name := *item.Table
		qual := item.Alias
		if qual == "" {
			qual = name.Last()
		}

		if len(name.Parts) == 1 {
			if cte, ok := ctx.ctes[name.Last()]; ok {
				f, err := e.runSelectWithCtx(ctx, cte, deadline)
				if err != nil {
					return nil, "", err
				}
				return f, qual, nil
			}
		}

		r, err := resolveIdent(ctx.sess, name)
		if err != nil {
			return nil, "", err
		}

		if view, ok, verr := e.catalog(r.DB).GetView(r.Table); verr == nil && ok {
			if ctx.viewDepth[r.Path()] > 0 {
				return nil, "", newErr(KindConflict, "recursive view reference: %s", r.Path())
			}
			ctx.viewDepth[r.Path()]++
			defer func() { ctx.viewDepth[r.Path()]-- }()
			cmds, perr := parser.Parse(view.Query)
			if perr != nil {
				return nil, "", wrapErr(KindInternal, perr, "re-parsing view %s", r.Path())
			}
			vsel, ok := cmds[0].(*ast.SelectStmt)
			if !ok {
				return nil, "", newErr(KindInternal, "view %s is not a SELECT", r.Path())
			}
			f, err := e.runSelectWithCtx(ctx, vsel, deadline)
			if err != nil {
				return nil, "", err
			}
			return f, qual, nil
		}

		if err := e.checkTable(ctx.sess, r, rbac.ActionRead); err != nil {
			return nil, "", err
		}
		t, err := e.openTable(r.DB, r.Schema, r.Table)
		if err != nil {
			return nil, "", err
		}
		f, err := t.Read()
		if err != nil {
			return nil, "", wrapErr(KindInternal, err, "reading table %s", r.Path())
		}
		return f, qual, nil

	default:
		return nil, "", newErr(KindInternal, "empty FROM item")
	}
}

// vectorArg accepts a query vector as either a vector value or its
// JSON-array string spelling ("[1,2,3]").
func vectorArg(v types.Value) ([]float32, error) {
	if v.Kind == types.VectorF32 {
		return v.Vec, nil
	}
	var out []float32
	if err := json.Unmarshal([]byte(v.S), &out); err != nil {
		return nil, fmt.Errorf("parsing %q as a vector: %w", v.S, err)
	}
	return out, nil
}

// resolveTVF evaluates a table-valued function call in the FROM clause:
// graph_neighbors, nearest_neighbors, or unnest.
func (e *Engine) resolveTVF(ctx *selCtx, call *ast.FuncCall) (*frame.Frame, error) {
	// unnest(array(...)) expands its elements one by one instead of
	// evaluating "array" as a scalar call, so it is dispatched before the
	// eager argument evaluation below.
	if call.Name == "unnest" && len(call.Args) == 1 {
		if fc, ok := call.Args[0].(*ast.FuncCall); ok && (fc.Name == "array" || fc.Name == "ARRAY") {
			vals := make([]types.Value, len(fc.Args))
			for i, a := range fc.Args {
				v, err := eval.Eval(eval.NewContext(frame.New(nil, nil), 0, ctx.runner), a)
				if err != nil {
					return nil, wrapErr(KindParseError, err, "evaluating array element %d", i+1)
				}
				vals[i] = v
			}
			return tvf.UnnestValues(vals), nil
		}
	}

	args := make([]types.Value, len(call.Args))
	for i, a := range call.Args {
		v, err := eval.Eval(eval.NewContext(frame.New(nil, nil), 0, ctx.runner), a)
		if err != nil {
			return nil, wrapErr(KindParseError, err, "evaluating argument %d to %s(...)", i+1, call.Name)
		}
		args[i] = v
	}

	switch call.Name {
	case "graph_neighbors":
		if len(args) < 4 {
			return nil, newErr(KindParseError, "graph_neighbors(graph, start, edge_type, max_depth) requires at least 4 arguments")
		}
		if ctx.sess.CurrentDB == "" {
			return nil, newErr(KindNotFound, "no current database selected; USE DATABASE first")
		}
		graphName := args[0].S
		g, err := e.catalog(ctx.sess.CurrentDB).OpenGraph(graphName)
		if err != nil {
			return nil, wrapErr(KindNotFound, err, "opening graph %q", graphName)
		}
		// The start node is either a raw node id, or a (label, key) pair
		// resolved with AddNode, which returns the existing id or assigns
		// and WAL-logs a new node when the pair is not in the graph.
		var startID int64
		var edgeType string
		maxDepth := 1
		if args[1].Kind.IsNumeric() {
			startID, _ = args[1].AsInt()
			edgeType = args[2].S
			n, _ := args[3].AsInt()
			maxDepth = int(n)
		} else {
			label, key := args[1].S, args[2].S
			edgeType = args[3].S
			if len(args) >= 5 {
				n, _ := args[4].AsInt()
				maxDepth = int(n)
			}
			startID, err = g.AddNode(label, key)
			if err != nil {
				return nil, wrapErr(KindInternal, err, "resolving start node")
			}
		}
		return tvf.GraphNeighbors(g.BFS(startID, edgeType, maxDepth)), nil

	case "nearest_neighbors":
		if len(args) < 4 {
			return nil, newErr(KindParseError, "nearest_neighbors(table, column, query_vector, k, metric[, ef_search]) requires at least 4 arguments")
		}
		tableName, col := args[0].S, args[1].S
		query, err := vectorArg(args[2])
		if err != nil {
			return nil, wrapErr(KindTypeMismatch, err, "nearest_neighbors query vector")
		}
		k, _ := args[3].AsInt()
		metric := "l2"
		if len(args) >= 5 && args[4].S != "" {
			metric = args[4].S
		}
		efSearch := 0
		if len(args) >= 6 {
			n, _ := args[5].AsInt()
			efSearch = int(n)
		}
		r, err := resolveIdent(ctx.sess, ast.Ident{Parts: []string{tableName}, Raw: tableName})
		if err != nil {
			return nil, err
		}
		if err := e.checkTable(ctx.sess, r, rbac.ActionRead); err != nil {
			return nil, err
		}
		t, err := e.openTable(r.DB, r.Schema, r.Table)
		if err != nil {
			return nil, err
		}
		cat := e.catalog(r.DB)
		// ANN only when an index exists on (table, col) with a matching
		// metric; anything else takes the flat scan.
		meta, ok, err := cat.GetVectorIndexMeta(r.Table, col)
		if err == nil && ok && meta.Metric == metric {
			idx, cached := cat.CachedVectorIndex(r.Table, col)
			if !cached {
				idx = storage.NewHNSWIndex(meta)
				f, err := t.Read()
				if err != nil {
					return nil, err
				}
				ci := f.ColIndex(col)
				if ci >= 0 {
					for i := 0; i < f.NumRows(); i++ {
						v := f.Columns[ci][i]
						if !v.Null {
							idx.Add(f.RowIDs[i], v.Vec)
						}
					}
				}
				cat.CacheVectorIndex(r.Table, col, idx)
			}
			return tvf.NearestNeighbors(idx.Search(query, int(k), efSearch)), nil
		}
		f, err := t.Read()
		if err != nil {
			return nil, err
		}
		hits, err := storage.FlatScan(f, col, query, int(k), metric)
		if err != nil {
			return nil, err
		}
		return tvf.NearestNeighbors(hits), nil

	case "unnest":
		if len(args) != 1 {
			return nil, newErr(KindParseError, "unnest(...) takes exactly one argument")
		}
		return tvf.Unnest(args[0])

	default:
		return nil, newErr(KindParseError, "unknown table-valued function %q", call.Name)
	}
}
