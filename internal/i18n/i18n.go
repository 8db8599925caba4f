package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
)

const (
	DefaultLang = "en"
	CookieName  = "lang"
)

//go:embed resources/*.json
var resourcesFS embed.FS

var (
	mu           sync.RWMutex
	translations = make(map[string]map[string]string)
)

// Init loads the embedded catalogs.
func Init() error {
	return Load(resourcesFS, "resources")
}

// Load reads every <lang>.json catalog from dir in fsys.
func Load(fsys fs.FS, dir string) error {
	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read translations: %w", err)
	}
	loaded := make(map[string]map[string]string)
	for _, f := range files {
		if f.IsDir() || path.Ext(f.Name()) != ".json" {
			continue
		}
		lang := strings.TrimSuffix(f.Name(), ".json")
		data, err := fs.ReadFile(fsys, path.Join(dir, f.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name(), err)
		}
		var t map[string]string
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("parse %s: %w", f.Name(), err)
		}
		loaded[lang] = t
	}

	mu.Lock()
	translations = loaded
	mu.Unlock()
	return nil
}

func T(lang, key string) string {
	mu.RLock()
	defer mu.RUnlock()
	if t, ok := translations[lang]; ok {
		if val, ok := t[key]; ok {
			return val
		}
	}
	// Fallback to en
	if t, ok := translations[DefaultLang]; ok {
		if val, ok := t[key]; ok {
			return val
		}
	}
	return key
}

func Supported(lang string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := translations[lang]
	return ok
}

func GetLang(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err == nil && Supported(cookie.Value) {
		return cookie.Value
	}
	return DefaultLang
}

func GetAvailableLangs() []string {
	mu.RLock()
	defer mu.RUnlock()
	langs := []string{}
	for l := range translations {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}
