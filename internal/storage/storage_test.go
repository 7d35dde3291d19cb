package storage

import "testing"

func TestJobKeyPrefix(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{base: "", want: "job-3"},
		{base: "hls-downloads", want: "hls-downloads/job-3"},
		{base: "/nested/dir/", want: "nested/dir/job-3"},
	}
	for _, tt := range tests {
		if got := JobKeyPrefix(tt.base, 3); got != tt.want {
			t.Errorf("JobKeyPrefix(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name       string
		location   string
		bucket     string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{name: "nested prefix", location: "s3://media/hls-downloads/job-1", bucket: "media", wantBucket: "media", wantPrefix: "hls-downloads/job-1"},
		{name: "trailing slash", location: "s3://media/job-1/", bucket: "media", wantBucket: "media", wantPrefix: "job-1"},
		{name: "any bucket", location: "s3://other/job-1", wantBucket: "other", wantPrefix: "job-1"},
		{name: "wrong scheme", location: "https://media/job-1", bucket: "media", wantErr: true},
		{name: "bucket mismatch", location: "s3://other/job-1", bucket: "media", wantErr: true},
		{name: "no prefix", location: "s3://media", bucket: "media", wantErr: true},
		{name: "no bucket", location: "s3:///job-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, prefix, err := ParseLocation(tt.location, tt.bucket)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if bucket != tt.wantBucket || prefix != tt.wantPrefix {
				t.Errorf("expected %s/%s, got %s/%s", tt.wantBucket, tt.wantPrefix, bucket, prefix)
			}
		})
	}
}
