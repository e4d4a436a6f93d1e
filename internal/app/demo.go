package app

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/splax/routedev/internal/instrument"
)

// Todo is an item of the demo todo list.
type Todo struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

type todoList struct {
	mu     sync.Mutex
	items  []Todo
	nextID int
}

// DemoTable returns a small application used by `routedev serve` when no
// other application is mounted. It covers synchronous and asynchronous
// loaders, actions, thrown redirects and cache headers.
func DemoTable() instrument.Table {
	todos := &todoList{nextID: 1}
	return instrument.Table{
		"root": {
			ID:   "root",
			File: "root.tsx",
			Loader: instrument.Sync(func(ctx context.Context, args instrument.Args) (any, error) {
				return map[string]any{"app": "routedev demo", "time": time.Now().UTC()}, nil
			}),
		},
		"routes/_index": {
			ID:       "routes/_index",
			ParentID: "root",
			Path:     "/",
			Index:    true,
			File:     "routes/_index.tsx",
			Loader: instrument.Sync(func(ctx context.Context, args instrument.Args) (any, error) {
				resp, err := instrument.JSON(http.StatusOK, map[string]string{"message": "hello"})
				if err != nil {
					return nil, err
				}
				resp.Header.Set("Cache-Control", "public, max-age=60, s-maxage=300")
				return resp, nil
			}),
		},
		"routes/todos": {
			ID:       "routes/todos",
			ParentID: "root",
			Path:     "/todos",
			File:     "routes/todos.tsx",
			Loader: instrument.Sync(func(ctx context.Context, args instrument.Args) (any, error) {
				return todos.list(), nil
			}),
			Action: instrument.Sync(func(ctx context.Context, args instrument.Args) (any, error) {
				if err := args.Request.ParseForm(); err != nil {
					return nil, err
				}
				title := strings.TrimSpace(args.Request.PostForm.Get("title"))
				if title == "" {
					resp, _ := instrument.JSON(http.StatusBadRequest, map[string]string{"error": "title is required"})
					return resp, nil
				}
				todos.add(title)
				return nil, instrument.Throw(instrument.Redirect("/todos", http.StatusSeeOther))
			}),
		},
		"routes/todos.$id": {
			ID:       "routes/todos.$id",
			ParentID: "routes/todos",
			Path:     "/todos/:id",
			File:     "routes/todos.$id.tsx",
			Loader: instrument.Sync(func(ctx context.Context, args instrument.Args) (any, error) {
				id, err := strconv.Atoi(args.Params["id"])
				if err != nil {
					return nil, instrument.Throw(&instrument.Response{Status: http.StatusBadRequest})
				}
				todo, ok := todos.get(id)
				if !ok {
					return nil, instrument.Throw(&instrument.Response{Status: http.StatusNotFound})
				}
				return todo, nil
			}),
		},
		"routes/slow": {
			ID:       "routes/slow",
			ParentID: "root",
			Path:     "/slow",
			File:     "routes/slow.tsx",
			Loader: instrument.Async(func(ctx context.Context, args instrument.Args) *instrument.Future {
				return instrument.Go(func() (any, error) {
					select {
					case <-time.After(150 * time.Millisecond):
						return map[string]string{"status": "finally"}, nil
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				})
			}),
		},
		"routes/logout": {
			ID:       "routes/logout",
			ParentID: "root",
			Path:     "/logout",
			File:     "routes/logout.tsx",
			Action: instrument.Sync(func(ctx context.Context, args instrument.Args) (any, error) {
				h := make(http.Header)
				h.Add("Set-Cookie", "session=; Max-Age=0; Path=/")
				h.Set("Clear-Site-Data", `"cookies", "storage"`)
				h.Set("Location", "/")
				return &instrument.Response{Status: http.StatusSeeOther, Header: h}, nil
			}),
		},
		"routes/broken": {
			ID:       "routes/broken",
			ParentID: "root",
			Path:     "/broken",
			File:     "routes/broken.tsx",
			Loader: instrument.Sync(func(ctx context.Context, args instrument.Args) (any, error) {
				return nil, errors.New("database unavailable")
			}),
		},
	}
}

func (l *todoList) list() []Todo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Todo{}, l.items...)
}

func (l *todoList) add(title string) Todo {
	l.mu.Lock()
	defer l.mu.Unlock()
	todo := Todo{ID: l.nextID, Title: title}
	l.nextID++
	l.items = append(l.items, todo)
	return todo
}

func (l *todoList) get(id int) (Todo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.items {
		if t.ID == id {
			return t, true
		}
	}
	return Todo{}, false
}
