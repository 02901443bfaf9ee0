// Downloads missing drive-log segments from devices into the local archive.
package fetch

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/rlogvault/rlogvault/pkg/rvtypes"
	"github.com/rlogvault/rlogvault/pkg/segname"
	"golang.org/x/crypto/ssh"
)

const (
	// fixed, well-known paths on the device
	remoteDataDir = "/data/media/0/realdata"
	dongleIDParam = "/data/params/d/DongleId"
	offroadParam  = "/data/params/d/IsOffroad"

	connectTimeout = 30 * time.Second
)

type deviceConn struct {
	client *ssh.Client
	device *rvtypes.Device
}

// connectDevice authenticates with the device's ssh key. Auth or dial
// failure is fatal for this device (no retry at this layer).
func connectDevice(device *rvtypes.Device) (*deviceConn, error) {
	keyBytes, err := os.ReadFile(device.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh key: %v", err)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("ssh key: %v", err)
	}

	addr := device.Address
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}

	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            device.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // devices have self-provisioned host keys
		Timeout:         connectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %v", device.Address, err)
	}

	return &deviceConn{client: client, device: device}, nil
}

func (c *deviceConn) Close() error {
	return c.client.Close()
}

// run executes one command over a fresh session on the multiplexed connection
func (c *deviceConn) run(cmd string) (string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	out, err := session.Output(cmd)
	if err != nil {
		return "", fmt.Errorf("remote command %q: %v", cmd, err)
	}

	return strings.TrimSpace(string(out)), nil
}

func (c *deviceConn) DongleID() (string, error) {
	dongleID, err := c.run("cat " + dongleIDParam)
	if err != nil {
		return "", err
	}
	if dongleID == "" {
		return "", fmt.Errorf("device %s reports empty dongle id", c.device.Address)
	}

	return dongleID, nil
}

// IsOffroad tells whether the device is parked. Pulling logs while driving
// competes with the logger for disk bandwidth.
func (c *deviceConn) IsOffroad() (bool, error) {
	state, err := c.run("cat " + offroadParam)
	if err != nil {
		return false, err
	}

	return state == "1", nil
}

// ListSegments enumerates the device's log segments with sizes in a single
// round trip.
func (c *deviceConn) ListSegments(logl *logex.Leveled) ([]rvtypes.Segment, error) {
	out, err := c.run(fmt.Sprintf(
		`find %s -type f \( -name 'rlog*' -o -name 'qlog*' \) -printf '%%s %%P\n'`,
		remoteDataDir))
	if err != nil {
		return nil, fmt.Errorf("remote inventory: %v", err)
	}

	segments := []rvtypes.Segment{}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		sizeAndPath := strings.SplitN(line, " ", 2)
		if len(sizeAndPath) != 2 {
			logl.Debug.Printf("unparseable inventory line: %q", line)
			continue
		}

		size, err := strconv.ParseInt(sizeAndPath[0], 10, 64)
		if err != nil {
			logl.Debug.Printf("unparseable inventory line: %q", line)
			continue
		}

		seg, err := segname.ParseRemote(sizeAndPath[1], size)
		if err != nil {
			// in-flight segment dirs contain non-log files too; not an error
			logl.Debug.Printf("skipping remote file: %v", err)
			continue
		}

		segments = append(segments, *seg)
	}

	return segments, nil
}
