package devicelink

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHOpts configures the SSH session under an SFTP link.
type SSHOpts struct {
	User       string
	Port       int           // 0 = 2222, the usual port of Android SFTP server apps
	KeyFile    string        // empty = agent + ~/.ssh defaults
	Password   string        // empty = no password auth
	KnownHosts string        // empty = ~/.ssh/known_hosts
	Insecure   bool          // skip host key verification
	Timeout    time.Duration // dial timeout; 0 = 15s
}

// DialSSH connects to host. Auth methods are tried in order: agent, key
// files, password.
func DialSSH(host string, opts SSHOpts) (*ssh.Client, error) {
	if opts.User == "" {
		return nil, fmt.Errorf("ssh: user is required")
	}
	port := opts.Port
	if port == 0 {
		port = 2222
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	auth := authMethods(opts)
	if len(auth) == 0 {
		return nil, fmt.Errorf("no SSH auth methods available (set SSH_AUTH_SOCK, provide a key, or a password)")
	}

	hostKey, err := hostKeyCallback(opts)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            opts.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	})
	if err != nil {
		return nil, newError(Unreachable, "dial", addr, err)
	}
	return client, nil
}

func authMethods(opts SSHOpts) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	keys := []string{opts.KeyFile}
	if opts.KeyFile == "" {
		keys = []string{"~/.ssh/id_ed25519", "~/.ssh/id_ecdsa", "~/.ssh/id_rsa"}
	}
	for _, k := range keys {
		if m := keyFileAuth(k); m != nil {
			methods = append(methods, m)
		}
	}

	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
	}
	return methods
}

func keyFileAuth(path string) ssh.AuthMethod {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil
	}
	return ssh.PublicKeys(signer)
}

func hostKeyCallback(opts SSHOpts) (ssh.HostKeyCallback, error) {
	if opts.Insecure {
		//nolint:gosec // explicitly requested for throwaway phone servers
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := opts.KnownHosts
	if path == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s (use --insecure to skip): %w", path, err)
	}
	return cb, nil
}
