package storagehandler

import (
	"strings"
	"testing"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantErr   bool
		errMsg    string
		scheme    string
		authority string
		basePath  string
	}{
		{
			name:     "local path",
			raw:      "file:///data/storage",
			scheme:   SchemeFile,
			basePath: "/data/storage",
		},
		{
			name:      "s3 bucket with base",
			raw:       "s3://my-bucket/datasets",
			scheme:    SchemeS3,
			authority: "my-bucket",
			basePath:  "/datasets",
		},
		{
			name:      "gcs bucket root",
			raw:       "gs://my-bucket",
			scheme:    SchemeGCS,
			authority: "my-bucket",
			basePath:  "/",
		},
		{
			name:      "sftp host with port",
			raw:       "sftp://deploy@host.example.com:2022/srv/files",
			scheme:    SchemeSFTP,
			authority: "host.example.com:2022",
			basePath:  "/srv/files",
		},
		{
			name:    "unsupported scheme",
			raw:     "ftp://host/path",
			wantErr: true,
			errMsg:  "unsupported scheme",
		},
		{
			name:    "s3 without bucket",
			raw:     "s3:///datasets",
			wantErr: true,
			errMsg:  "requires a bucket",
		},
		{
			name:    "sftp without host",
			raw:     "sftp:///srv/files",
			wantErr: true,
			errMsg:  "requires a host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, err := ParseURI(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err != nil {
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error = %v, want containing %q", err, tt.errMsg)
				}
				if !IsInvalidPath(err) {
					t.Errorf("error = %v, want ErrInvalidPath", err)
				}
				return
			}
			if uri.Scheme != tt.scheme {
				t.Errorf("Scheme = %q, want %q", uri.Scheme, tt.scheme)
			}
			if uri.Authority != tt.authority {
				t.Errorf("Authority = %q, want %q", uri.Authority, tt.authority)
			}
			if uri.BasePath != tt.basePath {
				t.Errorf("BasePath = %q, want %q", uri.BasePath, tt.basePath)
			}
		})
	}
}

func TestResolveRelative(t *testing.T) {
	uri, err := ParseURI("s3://bucket/base/dir")
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(uri)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "plain", path: "a/b.txt", want: "base/dir/a/b.txt"},
		{name: "leading slash stripped", path: "/a/b.txt", want: "base/dir/a/b.txt"},
		{name: "dot segments collapse", path: "a/./c/../b.txt", want: "base/dir/a/b.txt"},
		{name: "empty is the root", path: "", want: "base/dir"},
		{name: "escape via dotdot", path: "../../etc/passwd", wantErr: true},
		{name: "escape after clean", path: "a/../../../x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rp, err := r.Resolve(tt.path, true)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err != nil {
				if !IsInvalidPath(err) {
					t.Errorf("error = %v, want ErrInvalidPath", err)
				}
				return
			}
			if rp.Native != tt.want {
				t.Errorf("Native = %q, want %q", rp.Native, tt.want)
			}
		})
	}
}

func TestResolveAbsolute(t *testing.T) {
	uri, err := ParseURI("s3://bucket/base")
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(uri)

	rp, err := r.Resolve("/other/place/f.txt", false)
	if err != nil {
		t.Fatal(err)
	}
	if rp.Native != "other/place/f.txt" {
		t.Errorf("Native = %q, want %q", rp.Native, "other/place/f.txt")
	}

	// Full URIs are accepted when they match the root.
	rp, err = r.Resolve("s3://bucket/base/f.txt", false)
	if err != nil {
		t.Fatal(err)
	}
	if rp.Native != "base/f.txt" {
		t.Errorf("Native = %q, want %q", rp.Native, "base/f.txt")
	}

	// Mismatched scheme or bucket is rejected.
	if _, err := r.Resolve("gs://bucket/base/f.txt", false); !IsInvalidPath(err) {
		t.Errorf("scheme mismatch error = %v, want ErrInvalidPath", err)
	}
	if _, err := r.Resolve("s3://other-bucket/f.txt", false); !IsInvalidPath(err) {
		t.Errorf("authority mismatch error = %v, want ErrInvalidPath", err)
	}
}

func TestResolveIdempotent(t *testing.T) {
	uri, err := ParseURI("file:///data/store")
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(uri)

	first, err := r.Resolve("sub/file.txt", true)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(first.Native, false)
	if err != nil {
		t.Fatal(err)
	}
	if first.Native != second.Native {
		t.Errorf("re-resolve changed path: %q -> %q", first.Native, second.Native)
	}
}

func TestResolverFilePathsKeepLeadingSlash(t *testing.T) {
	uri, err := ParseURI("file:///data/store")
	if err != nil {
		t.Fatal(err)
	}
	rp, err := NewResolver(uri).Resolve("x.txt", true)
	if err != nil {
		t.Fatal(err)
	}
	if rp.Native != "/data/store/x.txt" {
		t.Errorf("Native = %q, want %q", rp.Native, "/data/store/x.txt")
	}
}
