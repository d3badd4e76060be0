package panel

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path"
)

//go:embed web/*
var content embed.FS

// assets picks the asset tree: dir when it is an existing directory, the
// embedded copy otherwise.
func assets(dir string) http.FileSystem {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return http.Dir(dir)
		}
	}
	web, err := fs.Sub(content, "web")
	if err != nil {
		panic("panel: embedded assets missing: " + err.Error())
	}
	return http.FS(web)
}

// Handler serves the rod view from dir, or from the copy built into the
// binary when dir is empty or absent. Unknown paths get index.html so
// client-side routes survive a reload.
func Handler(dir string) http.Handler {
	root := assets(dir)
	files := http.FileServer(root)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		if name := path.Clean("/" + r.URL.Path); name != "/" && !exists(root, name[1:]) {
			r.URL.Path = "/"
		}
		files.ServeHTTP(w, r)
	})
}

func exists(root http.FileSystem, name string) bool {
	f, err := root.Open(name)
	if err != nil {
		return false
	}
	f.Close() //nolint:errcheck // existence check only
	return true
}
