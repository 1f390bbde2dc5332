package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mblsha/zipforge/internal/api"
	"github.com/mblsha/zipforge/internal/archive"
	"github.com/mblsha/zipforge/internal/client"
	"github.com/mblsha/zipforge/internal/discovery"
)

var discoverFn = discovery.Discover

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logrus.WithError(err).Fatal("zipforge-cli failed")
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		usage()
		return flag.ErrHelp
	}
	switch args[0] {
	case "zip":
		return runZip(ctx, args[1:], stdout)
	case "unzip":
		return runUnzip(ctx, args[1:], stdout)
	case "health":
		return runHealth(ctx, args[1:], stdout)
	default:
		usage()
		return flag.ErrHelp
	}
}

type connectionFlags struct {
	server          *string
	token           *string
	discover        *bool
	discoverTimeout *time.Duration
	query           discovery.Query
}

func addConnectionFlags(fs *flag.FlagSet) *connectionFlags {
	c := &connectionFlags{
		server:          fs.String("server", defaultString(os.Getenv("ZIPFORGE_SERVER"), ""), "server base url (if empty, auto-discover)"),
		token:           fs.String("token", strings.TrimSpace(os.Getenv("ZIPFORGE_TOKEN")), "bearer token"),
		discover:        fs.Bool("discover", true, "auto-discover server when --server is not provided"),
		discoverTimeout: fs.Duration("discover-timeout", 2*time.Second, "mDNS auto-discovery timeout"),
	}
	fs.StringVar(&c.query.Service, "discover-service", discovery.DefaultServiceName, "mDNS service name used for discovery")
	fs.StringVar(&c.query.Domain, "discover-domain", discovery.DefaultDomain, "mDNS discovery domain")
	fs.StringVar(&c.query.Instance, "discover-instance", "", "only accept this mDNS instance name")
	return c
}

func (c *connectionFlags) client(stdout io.Writer) (*client.HTTPClient, error) {
	url, err := resolveServerURL(*c.server, *c.discover, *c.discoverTimeout, c.query, stdout)
	if err != nil {
		return nil, err
	}
	return &client.HTTPClient{BaseURL: url, Token: *c.token}, nil
}

func runZip(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("zipforge-cli zip", flag.ContinueOnError)
	conn := addConnectionFlags(fs)
	folder := fs.String("folder", "", "folder to archive, relative to the server's source root")
	name := fs.String("name", "", "archive file name on the server (default archive.zip)")
	password := fs.String("password", "", "archive password")
	format := fs.String("format", "zip", "archive format: zip or 7z")
	recursive := fs.Bool("recursive", true, "include subdirectories")
	out := fs.String("out", "", "local path for the downloaded archive (default: server file name in the current directory)")
	extractTo := fs.String("extract-to", "", "also unpack the downloaded archive into this local directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*folder) == "" {
		return errors.New("--folder is required")
	}

	c, err := conn.client(stdout)
	if err != nil {
		return err
	}

	dir := "."
	if *out != "" {
		dir = filepath.Dir(*out)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(dir, ".zipforge-download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	served, err := c.ZipFolder(ctx, api.ZipFolderRequest{
		Folder:      *folder,
		ArchiveName: *name,
		Password:    *password,
		Recursive:   recursive,
		Format:      *format,
	}, tmp)
	closeErr := tmp.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	target := *out
	if target == "" {
		if served == "" || served == "." || served == "/" {
			served = "archive" + "." + strings.ToLower(*format)
		}
		target = served
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("save archive: %w", err)
	}
	fmt.Fprintf(stdout, "archive written to %s\n", target)

	if *extractTo == "" {
		return nil
	}
	if err := os.MkdirAll(*extractTo, 0o755); err != nil {
		return err
	}
	written, err := extractLocal(target, *extractTo, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "archive extracted to %s (%d files)\n", *extractTo, len(written))
	return nil
}

func extractLocal(path, dest, password string) ([]string, error) {
	kind, err := archive.Detect(path)
	if err != nil {
		return nil, err
	}
	switch kind {
	case archive.KindZip:
		return archive.ExtractZipSecure(path, dest, archive.DefaultLimits())
	case archive.KindSevenZip:
		return archive.ExtractSevenZipSecure(path, dest, password, archive.DefaultLimits())
	default:
		return nil, fmt.Errorf("unrecognized archive format: %s", path)
	}
}

func runUnzip(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("zipforge-cli unzip", flag.ContinueOnError)
	conn := addConnectionFlags(fs)
	folder := fs.String("folder", ".", "folder holding the archive, relative to the server's source root")
	archiveName := fs.String("archive", "", "archive file name inside --folder")
	password := fs.String("password", "", "archive password")
	dest := fs.String("dest", "", "destination directory under the output root (default: archive stem)")
	overwrite := fs.String("overwrite", "skip", "when the destination exists: skip, overwrite or rename")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*archiveName) == "" {
		return errors.New("--archive is required")
	}

	c, err := conn.client(stdout)
	if err != nil {
		return err
	}
	res, err := c.UnzipArchive(ctx, api.UnzipRequest{
		Folder:      *folder,
		ArchiveName: *archiveName,
		Password:    *password,
		DestDir:     *dest,
		Overwrite:   *overwrite,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "extracted %s to %s\n", res.Archive, res.ExtractedTo)
	for _, entry := range res.EntriesTopLevel {
		fmt.Fprintf(stdout, "  %s\n", entry)
	}
	return nil
}

func runHealth(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("zipforge-cli health", flag.ContinueOnError)
	conn := addConnectionFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := conn.client(stdout)
	if err != nil {
		return err
	}
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "status=%s base=%s out=%s token=...%s\n", h.Status, h.BasePath, h.OutPath, h.LastTokenDigits)
	return nil
}

func usage() {
	_, _ = os.Stderr.WriteString("zipforge-cli usage:\n")
	_, _ = os.Stderr.WriteString("  zipforge-cli zip --folder <dir> [--name out.zip] [--format zip|7z] [--out local.zip] [--extract-to dir]\n")
	_, _ = os.Stderr.WriteString("  zipforge-cli unzip --archive <name> [--folder dir] [--dest dir] [--overwrite skip|overwrite|rename]\n")
	_, _ = os.Stderr.WriteString("  zipforge-cli health\n")
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}

func resolveServerURL(explicit string, discover bool, timeout time.Duration, q discovery.Query, stdout io.Writer) (string, error) {
	explicit = strings.TrimSpace(explicit)
	if explicit != "" {
		return explicit, nil
	}
	if !discover {
		return "", errors.New("server is required when discovery is disabled; pass --server")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	endpoint, err := discoverFn(ctx, q)
	if err != nil {
		return "", fmt.Errorf("discover server via mDNS: %w", err)
	}
	fmt.Fprintf(stdout, "discovered server: %s (instance=%s host=%s)\n", endpoint.URL, endpoint.Instance, endpoint.HostName)
	return endpoint.URL, nil
}
