package objectstore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
)

// FTPClient implements the "ftp" scheme directly against RFC 959 using
// net/textproto; no FTP library appears anywhere in the corpus, so this is
// one of Poiesis's deliberate stdlib-only components (see DESIGN.md).
// Authenticates anonymous unless the URL carries userinfo.
type FTPClient struct{}

func NewFTPClient() *FTPClient { return &FTPClient{} }

type ftpConn struct {
	conn *textproto.Conn
	raw  net.Conn
}

func dialFTP(ctx context.Context, rawURL string) (*ftpConn, *url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, poiesiserr.Wrap(poiesiserr.KindValidation, "parse ftp url "+rawURL, err)
	}
	host := u.Host
	if !strings.Contains(host, ":") {
		host = host + ":21"
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "dial ftp "+host, err)
	}

	c := textproto.NewConn(raw)
	if _, _, err := c.ReadResponse(220); err != nil {
		raw.Close()
		return nil, nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp greeting", err)
	}

	user := "anonymous"
	pass := "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}

	if err := c.PrintfLine("USER %s", user); err != nil {
		raw.Close()
		return nil, nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp USER", err)
	}
	code, _, err := c.ReadResponse(0)
	if err != nil {
		raw.Close()
		return nil, nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp USER response", err)
	}
	if code == 331 {
		if err := c.PrintfLine("PASS %s", pass); err != nil {
			raw.Close()
			return nil, nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp PASS", err)
		}
		if _, _, err := c.ReadResponse(230); err != nil {
			raw.Close()
			return nil, nil, poiesiserr.Wrap(poiesiserr.KindAuth, "ftp login rejected", err)
		}
	} else if code != 230 {
		raw.Close()
		return nil, nil, poiesiserr.New(poiesiserr.KindAuth, fmt.Sprintf("ftp login unexpected code %d", code))
	}

	if err := c.PrintfLine("TYPE I"); err != nil {
		raw.Close()
		return nil, nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp TYPE I", err)
	}
	if _, _, err := c.ReadResponse(200); err != nil {
		raw.Close()
		return nil, nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp TYPE I response", err)
	}

	return &ftpConn{conn: c, raw: raw}, u, nil
}

func (f *ftpConn) close() {
	f.conn.PrintfLine("QUIT")
	f.raw.Close()
}

// pasv opens a PASV data connection and returns it.
func (f *ftpConn) pasv(ctx context.Context) (net.Conn, error) {
	if err := f.conn.PrintfLine("PASV"); err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp PASV", err)
	}
	_, line, err := f.conn.ReadResponse(227)
	if err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp PASV response", err)
	}
	host, port, err := parsePASV(line)
	if err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "parse ftp PASV reply", err)
	}
	var d net.Dialer
	dataConn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "dial ftp data conn", err)
	}
	return dataConn, nil
}

// parsePASV extracts host:port from a 227 reply of the form
// "227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)".
func parsePASV(line string) (string, int, error) {
	start := strings.IndexByte(line, '(')
	end := strings.IndexByte(line, ')')
	if start < 0 || end < 0 || end < start {
		return "", 0, fmt.Errorf("malformed PASV reply: %s", line)
	}
	parts := strings.Split(line[start+1:end], ",")
	if len(parts) != 6 {
		return "", 0, fmt.Errorf("malformed PASV reply: %s", line)
	}
	host := strings.Join(parts[:4], ".")
	p1, err := strconv.Atoi(parts[4])
	if err != nil {
		return "", 0, err
	}
	p2, err := strconv.Atoi(parts[5])
	if err != nil {
		return "", 0, err
	}
	return host, p1*256 + p2, nil
}

func (c *FTPClient) Download(ctx context.Context, rawURL, localPath string) error {
	f, u, err := dialFTP(ctx, rawURL)
	if err != nil {
		return err
	}
	defer f.close()

	data, err := f.pasv(ctx)
	if err != nil {
		return err
	}

	if err := f.conn.PrintfLine("RETR %s", u.Path); err != nil {
		data.Close()
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp RETR", err)
	}
	if _, _, err := f.conn.ReadResponse(150); err != nil {
		data.Close()
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp RETR response", err)
	}

	out, err := os.Create(localPath)
	if err != nil {
		data.Close()
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "create "+localPath, err)
	}
	_, copyErr := io.Copy(out, data)
	out.Close()
	data.Close()
	if copyErr != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp data transfer", copyErr)
	}
	if _, _, err := f.conn.ReadResponse(226); err != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp transfer complete", err)
	}
	return nil
}

func (c *FTPClient) Upload(ctx context.Context, localPath, rawURL string) error {
	f, u, err := dialFTP(ctx, rawURL)
	if err != nil {
		return err
	}
	defer f.close()

	in, err := os.Open(localPath)
	if err != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "open "+localPath, err)
	}
	defer in.Close()

	data, err := f.pasv(ctx)
	if err != nil {
		return err
	}

	if err := f.conn.PrintfLine("STOR %s", u.Path); err != nil {
		data.Close()
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp STOR", err)
	}
	if _, _, err := f.conn.ReadResponse(150); err != nil {
		data.Close()
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp STOR response", err)
	}

	_, copyErr := io.Copy(data, in)
	data.Close()
	if copyErr != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp data transfer", copyErr)
	}
	if _, _, err := f.conn.ReadResponse(226); err != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp transfer complete", err)
	}
	return nil
}

func (c *FTPClient) List(ctx context.Context, urlPrefix string) ([]Entry, error) {
	f, u, err := dialFTP(ctx, urlPrefix)
	if err != nil {
		return nil, err
	}
	defer f.close()

	data, err := f.pasv(ctx)
	if err != nil {
		return nil, err
	}

	if err := f.conn.PrintfLine("NLST %s", u.Path); err != nil {
		data.Close()
		return nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp NLST", err)
	}
	if _, _, err := f.conn.ReadResponse(150); err != nil {
		data.Close()
		return nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp NLST response", err)
	}

	scanner := bufio.NewScanner(data)
	var entries []Entry
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		full := path.Join(u.Path, path.Base(name))
		entries = append(entries, Entry{
			URL:  fmt.Sprintf("ftp://%s%s", u.Host, full),
			Path: full,
		})
	}
	data.Close()
	if _, _, err := f.conn.ReadResponse(226); err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "ftp transfer complete", err)
	}
	return entries, nil
}

var _ Client = (*FTPClient)(nil)
