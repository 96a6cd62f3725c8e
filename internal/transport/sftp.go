// Copyright (c) 2025-2026, the transferarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/transferarr/transferarr/internal/errkind"
)

const sftpDialTimeout = 30 * time.Second

// SFTP is a Transport backed by one SSH connection and its SFTP subsystem.
type SFTP struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// DialSFTP opens a new SSH connection and SFTP session per d. Resolves
// either addressing form: inline host credentials, or an alias looked up
// from an OpenSSH client config file.
func DialSFTP(ctx context.Context, d *SFTPDescriptor) (*SFTP, error) {
	if d == nil {
		return nil, errkind.New(errkind.ConfigurationError, "sftp descriptor missing")
	}

	host, port, user, auth, err := resolveSFTPTarget(d)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigurationError, "resolve sftp target", err)
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sftpDialTimeout,
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	dialCtx, cancel := context.WithTimeout(ctx, sftpDialTimeout)
	defer cancel()

	conn, err := dialSSHContext(dialCtx, addr, cfg)
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientEndpointError, fmt.Sprintf("dial ssh %s", addr), err)
	}

	sc, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, errkind.Wrap(errkind.TransientEndpointError, "open sftp session", err)
	}

	log.Info().Str("addr", addr).Str("user", user).Msg("[TRANSPORT] SFTP session opened")
	return &SFTP{sshClient: conn, sftpClient: sc}, nil
}

func dialSSHContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// resolveSFTPTarget turns either addressing form into concrete dial
// parameters and an auth method list.
func resolveSFTPTarget(d *SFTPDescriptor) (host string, port int, user string, auth []ssh.AuthMethod, err error) {
	if d.ByAlias() {
		return resolveSSHConfigAlias(d)
	}

	host, port, user = d.Host, d.Port, d.Username
	if port == 0 {
		port = 22
	}

	if d.KeyFile != "" {
		signer, err := loadPrivateKey(d.KeyFile)
		if err != nil {
			return "", 0, "", nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if d.Password != "" {
		auth = append(auth, ssh.Password(d.Password))
	}
	if len(auth) == 0 {
		return "", 0, "", nil, fmt.Errorf("sftp descriptor for %s has neither keyFile nor password", host)
	}
	return host, port, user, auth, nil
}

// resolveSSHConfigAlias looks up SSHConfigHost in an OpenSSH client config
// file, following the same Host/HostName/Port/User/IdentityFile resolution
// an `ssh <alias>` invocation would use.
func resolveSSHConfigAlias(d *SFTPDescriptor) (host string, port int, user string, auth []ssh.AuthMethod, err error) {
	path := d.SSHConfigFile
	if path == "" {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", 0, "", nil, herr
		}
		path = home + "/.ssh/config"
	}

	f, err := os.Open(path)
	if err != nil {
		return "", 0, "", nil, fmt.Errorf("open ssh config %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return "", 0, "", nil, fmt.Errorf("parse ssh config %s: %w", path, err)
	}

	alias := d.SSHConfigHost
	hostName, _ := cfg.Get(alias, "HostName")
	if hostName == "" {
		hostName = alias
	}
	portStr, _ := cfg.Get(alias, "Port")
	port = 22
	if portStr != "" {
		fmt.Sscanf(portStr, "%d", &port)
	}
	user, _ = cfg.Get(alias, "User")
	if user == "" {
		user = os.Getenv("USER")
	}
	identityFile, _ := cfg.Get(alias, "IdentityFile")
	if identityFile != "" {
		signer, kerr := loadPrivateKey(expandHome(identityFile))
		if kerr != nil {
			return "", 0, "", nil, kerr
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return "", 0, "", nil, fmt.Errorf("ssh config alias %q resolved no usable identity file", alias)
	}
	return hostName, port, user, auth, nil
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return home + path[1:]
		}
	}
	return path
}

func loadPrivateKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	return signer, nil
}

func (s *SFTP) Stat(_ context.Context, path string) (FileInfo, error) {
	fi, err := s.sftpClient.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Name:    fi.Name(),
		Size:    fi.Size(),
		Mode:    fi.Mode(),
		IsDir:   fi.IsDir(),
		ModTime: fi.ModTime().Unix(),
	}, nil
}

func (s *SFTP) ReadDir(_ context.Context, path string) ([]FileInfo, error) {
	entries, err := s.sftpClient.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, len(entries))
	for _, fi := range entries {
		out = append(out, FileInfo{
			Name:    fi.Name(),
			Size:    fi.Size(),
			Mode:    fi.Mode(),
			IsDir:   fi.IsDir(),
			ModTime: fi.ModTime().Unix(),
		})
	}
	return out, nil
}

func (s *SFTP) MkdirAll(_ context.Context, path string) error {
	return s.sftpClient.MkdirAll(path)
}

func (s *SFTP) OpenRead(_ context.Context, path string) (io.ReadCloser, error) {
	return s.sftpClient.Open(path)
}

func (s *SFTP) OpenWrite(_ context.Context, path string) (io.WriteCloser, error) {
	return s.sftpClient.Create(path)
}

func (s *SFTP) Close() error {
	sErr := s.sftpClient.Close()
	cErr := s.sshClient.Close()
	if sErr != nil {
		return sErr
	}
	return cErr
}
