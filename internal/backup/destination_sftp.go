package backup

import (
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/yourusername/mc-server-manager/internal/config"
)

// SFTPDestination stores backups on a remote SFTP server
type SFTPDestination struct {
	config     config.BackupDestinationConfig
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// NewSFTPDestination connects to the configured host. Callers must Close
// it.
func NewSFTPDestination(cfg config.BackupDestinationConfig) (*SFTPDestination, error) {
	dest := &SFTPDestination{
		config: cfg,
	}

	if err := dest.connect(); err != nil {
		return nil, err
	}

	return dest, nil
}

func (sd *SFTPDestination) authMethods() ([]ssh.AuthMethod, error) {
	if sd.config.SFTPKeyPath != "" {
		keyData, err := os.ReadFile(sd.config.SFTPKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key: %w", err)
		}

		var signer ssh.Signer
		if sd.config.SFTPKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(sd.config.SFTPKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if sd.config.SFTPPassword != "" {
		return []ssh.AuthMethod{ssh.Password(sd.config.SFTPPassword)}, nil
	}
	return nil, fmt.Errorf("no authentication method provided for SFTP")
}

// connect establishes SSH and SFTP connections
func (sd *SFTPDestination) connect() error {
	hostKeyCallback, err := NewHostKeyCallback(sd.config.KnownHostsPath, sd.config.TrustOnFirstUse)
	if err != nil {
		return fmt.Errorf("failed to configure host key verification: %w", err)
	}

	auth, err := sd.authMethods()
	if err != nil {
		return err
	}

	sshConfig := &ssh.ClientConfig{
		User:            sd.config.SFTPUsername,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}

	port := sd.config.SFTPPort
	if port == 0 {
		port = 22
	}
	addr := fmt.Sprintf("%s:%d", sd.config.SFTPHost, port)
	log.Printf("[SFTPDest] Connecting to %s...", addr)

	sshClient, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to SSH server: %w", err)
	}
	sd.sshClient = sshClient

	sftpClient, err := sftp.NewClient(sshClient,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentWrites(true),
		sftp.MaxConcurrentRequestsPerFile(64),
	)
	if err != nil {
		sshClient.Close()
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	sd.sftpClient = sftpClient

	if sd.config.Path != "" {
		if err := sd.sftpClient.MkdirAll(sd.config.Path); err != nil {
			sd.Close()
			return fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	return nil
}

// Close closes the SFTP and SSH connections
func (sd *SFTPDestination) Close() error {
	if sd.sftpClient != nil {
		sd.sftpClient.Close()
	}
	if sd.sshClient != nil {
		return sd.sshClient.Close()
	}
	return nil
}

func (sd *SFTPDestination) remotePath(filename string) string {
	return path.Join(sd.config.Path, filename)
}

// Upload writes to a temporary name and renames it into place.
func (sd *SFTPDestination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	destPath := sd.remotePath(filename)
	partPath := destPath + partialSuffix
	log.Printf("[SFTPDest] Uploading %s to %s (%d bytes)", filename, destPath, sizeBytes)

	file, err := sd.sftpClient.Create(partPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	written, err := file.ReadFrom(reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		sd.sftpClient.Remove(partPath)
		return fmt.Errorf("failed to write remote file: %w", err)
	}
	if written != sizeBytes {
		sd.sftpClient.Remove(partPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	if err := sd.sftpClient.PosixRename(partPath, destPath); err != nil {
		sd.sftpClient.Remove(partPath)
		return fmt.Errorf("failed to finalize remote file: %w", err)
	}

	log.Printf("[SFTPDest] Upload complete: %s", filename)
	return nil
}

// Download downloads a backup file from the SFTP destination
func (sd *SFTPDestination) Download(filename string, writer io.Writer) error {
	if err := validateFilename(filename); err != nil {
		return err
	}

	file, err := sd.sftpClient.Open(sd.remotePath(filename))
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteTo(writer); err != nil {
		return fmt.Errorf("failed to read remote file: %w", err)
	}
	return nil
}

// Delete removes a backup file from the SFTP destination
func (sd *SFTPDestination) Delete(filename string) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	destPath := sd.remotePath(filename)
	log.Printf("[SFTPDest] Deleting %s", destPath)

	if err := sd.sftpClient.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	return nil
}

// List returns all backup files in the SFTP destination
func (sd *SFTPDestination) List() ([]BackupFile, error) {
	dir := sd.config.Path
	if dir == "" {
		dir = "."
	}
	entries, err := sd.sftpClient.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote directory: %w", err)
	}

	files := []BackupFile{}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) == partialSuffix {
			continue
		}

		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: entry.Size(),
			CreatedAt: entry.ModTime().Unix(),
		})
	}

	return files, nil
}

// GetType returns the destination type
func (sd *SFTPDestination) GetType() string {
	return "sftp"
}
