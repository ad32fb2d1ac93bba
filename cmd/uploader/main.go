// Command uploader sends local crawl archives to an upload server.
//
//	uploader -s http://localhost:8080 -o org1 -t $TOKEN site.wacz
//	uploader -c uploader.json -form -name batch one.wacz two.wacz
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dmitrijs2005/crawlupload/internal/client/config"
	"github.com/dmitrijs2005/crawlupload/internal/flagx"
	"github.com/dmitrijs2005/crawlupload/internal/netx"
)

type options struct {
	name    string
	notes   string
	replace string
	form    bool
	files   []string
}

// parseArgs reads the per-upload flags and the files to send. Connection
// flags belong to the config package and are skipped here.
func parseArgs(args []string, cfg *config.Config) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("uploader", flag.ContinueOnError)
	fs.StringVar(&o.name, "name", "", "Upload name")
	fs.StringVar(&o.notes, "notes", "", "Upload notes")
	fs.StringVar(&o.replace, "replace", "", "Id of an upload to overwrite (stream only)")
	fs.BoolVar(&o.form, "form", false, "Send files as one multipart form")
	if err := fs.Parse(flagx.ExcludeArgs(args, config.Flags)); err != nil {
		return nil, err
	}
	o.files = fs.Args()

	switch {
	case cfg.OrgID == "":
		return nil, fmt.Errorf("-o is required")
	case len(o.files) == 0:
		return nil, fmt.Errorf("no files given")
	case !o.form && len(o.files) > 1:
		return nil, fmt.Errorf("stream upload takes exactly one file; use -form for more")
	case o.form && o.replace != "":
		return nil, fmt.Errorf("-replace works with stream uploads only")
	}
	return o, nil
}

func run(ctx context.Context, cfg *config.Config, o *options, out io.Writer) error {
	c := &netx.Client{BaseURL: cfg.ServerURL, Token: cfg.Token, OrgID: cfg.OrgID}

	if cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
	}

	var (
		res *netx.UploadResult
		err error
	)
	if o.form {
		files := make([]netx.FormFile, 0, len(o.files))
		for _, path := range o.files {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			files = append(files, netx.FormFile{Name: filepath.Base(path), Body: f})
		}
		res, err = c.FormUpload(ctx, o.name, o.notes, files)
	} else {
		f, ferr := os.Open(o.files[0])
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		res, err = c.StreamUpload(ctx, filepath.Base(o.files[0]), o.name, o.notes, o.replace, f)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, res.ID)
	return err
}

func main() {
	cfg := config.LoadConfig()
	o, err := parseArgs(os.Args[1:], cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, o, os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}
}
