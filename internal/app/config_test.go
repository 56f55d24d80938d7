package app

import "testing"

func TestLoadConfigPicksKVBackend(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"default memory", nil, KVMemory},
		{"redis when addr set", map[string]string{"REDIS_ADDR": "localhost:6379"}, KVRedis},
		{"sql when db enabled", map[string]string{"STRUGGLE_DB_ENABLED": "true"}, KVSQL},
		{"explicit wins", map[string]string{"REDIS_ADDR": "localhost:6379", "STRUGGLE_KV_BACKEND": "SQL"}, KVSQL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range []string{"REDIS_ADDR", "STRUGGLE_DB_ENABLED", "STRUGGLE_KV_BACKEND"} {
				t.Setenv(k, "")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg := LoadConfig()
			if cfg.KVBackend != tc.want {
				t.Fatalf("KVBackend=%q want %q", cfg.KVBackend, tc.want)
			}
		})
	}
}

func TestNeedsDB(t *testing.T) {
	cfg := Config{KVBackend: KVMemory, ArchiveSQL: true}
	if cfg.NeedsDB() {
		t.Fatalf("db disabled should not be needed")
	}
	cfg.DB.Enabled = true
	if !cfg.NeedsDB() {
		t.Fatalf("sql archive should need the db")
	}
	if !(Config{KVBackend: KVSQL}).NeedsDB() {
		t.Fatalf("sql kv should need the db")
	}
}
