package host_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aspect-build/apgate/internal/boot"
	"github.com/aspect-build/apgate/internal/bus"
	"github.com/aspect-build/apgate/internal/dispatch"
	"github.com/aspect-build/apgate/internal/flash"
	"github.com/aspect-build/apgate/internal/host"
	"github.com/aspect-build/apgate/internal/hostmsg"
	"github.com/aspect-build/apgate/internal/identity"
	"github.com/aspect-build/apgate/internal/registry"
	"github.com/aspect-build/apgate/internal/secure"
)

const (
	token = "0123456789abcdef"
	pin   = "123456"
)

type link struct {
	io.Reader
	io.Writer
}

// startDevice runs an AP dispatcher behind a pair of OS pipes and returns the
// host end.
func startDevice(t *testing.T, mode dispatch.Mode, transcript bool) io.ReadWriter {
	t.Helper()

	devIn, hostOut, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	hostIn, devOut, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}

	id, err := identity.Resolve(identity.Static{
		RoleTag: "ap",
		AppProc: identity.AP{Pin: pin, Token: token, BootMsg: "hello", AuthorizedIDs: []uint32{0x1001, 0x1002, 0x1003}},
	})
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New(flash.NewMemoryStore(), id.AP().AuthorizedIDs)
	if err := reg.Init(0x4B1D); err != nil {
		t.Fatal(err)
	}
	d, err := dispatch.New(dispatch.Config{
		Channel:   hostmsg.New(link{devIn, devOut}, hostmsg.Options{BoardName: "A", Transcript: transcript}),
		Identity:  id,
		Registry:  reg,
		Directory: bus.NewDirectory(bus.NewFake(0x24)),
		Secure:    secure.NewLoopback(&identity.Component{ID: 0x11111124, AttestationLoc: "McLean", AttestationDate: "08/08/08", AttestationCustomer: "Fritz"}),
		Booter:    &boot.Halt{},
		Mode:      mode,
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(context.Background())
		devOut.Close()
	}()
	t.Cleanup(func() {
		hostOut.Close()
		<-done
		devIn.Close()
		hostIn.Close()
	})
	return link{hostIn, hostOut}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientAgainstDevice(t *testing.T) {
	for _, tc := range []struct {
		name       string
		mode       dispatch.Mode
		opts       []host.Option
		transcript bool
	}{
		{"prompt", dispatch.ModePrompt, nil, false},
		{"batch", dispatch.ModeBatch, []host.Option{host.WithBatch()}, false},
		{"transcript", dispatch.ModePrompt, nil, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testContext(t)
			c := host.New(startDevice(t, tc.mode, tc.transcript), tc.opts...)

			l, err := c.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if !reflect.DeepEqual(l.Provisioned, []uint32{0x1001, 0x1002, 0x1003}) {
				t.Fatalf("Provisioned = %#x", l.Provisioned)
			}
			if !reflect.DeepEqual(l.Found, []uint32{0x24}) {
				t.Fatalf("Found = %#x", l.Found)
			}

			if err := c.Replace(ctx, token, 0x2002, 0x1002); err != nil {
				t.Fatalf("Replace: %v", err)
			}
			l, _ = c.List(ctx)
			if !reflect.DeepEqual(l.Provisioned, []uint32{0x1001, 0x2002, 0x1003}) {
				t.Fatalf("Provisioned after replace = %#x", l.Provisioned)
			}

			a, err := c.Attest(ctx, pin, 0x11111124)
			if err != nil {
				t.Fatalf("Attest: %v", err)
			}
			want := &host.Attestation{ComponentID: 0x11111124, Location: "McLean", Date: "08/08/08", Customer: "Fritz"}
			if !reflect.DeepEqual(a, want) {
				t.Fatalf("Attest = %+v, want %+v", a, want)
			}

			msg, err := c.Boot(ctx)
			if err != nil || msg != "hello" {
				t.Fatalf("Boot = %q, %v", msg, err)
			}
		})
	}
}

func TestClientDeviceErrors(t *testing.T) {
	ctx := testContext(t)
	c := host.New(startDevice(t, dispatch.ModePrompt, false))

	err := c.Replace(ctx, "wrong", 0x2002, 0x1002)
	var derr *host.DeviceError
	if !errors.As(err, &derr) || derr.Message != "Incorrect Token" {
		t.Fatalf("Replace: err = %v, want Incorrect Token", err)
	}

	_, err = c.Attest(ctx, "000000", 0x11111124)
	if !errors.As(err, &derr) || derr.Message != "Incorrect Pin" {
		t.Fatalf("Attest: err = %v, want Incorrect Pin", err)
	}

	_, err = c.Do(ctx, "reboot")
	if !errors.As(err, &derr) || derr.Message != "Unrecognized command 'reboot'" {
		t.Fatalf("Do: err = %v", err)
	}
}

// scripted replays canned device output and records what the host sent.
type scripted struct {
	out  *strings.Reader
	sent bytes.Buffer
}

func (s *scripted) Read(p []byte) (int, error)  { return s.out.Read(p) }
func (s *scripted) Write(p []byte) (int, error) { return s.sent.Write(p) }

func TestClientUnexpectedAck(t *testing.T) {
	s := &scripted{out: strings.NewReader("%ack%\n\r")}
	_, err := host.New(s).Do(context.Background(), "list")
	if !errors.Is(err, host.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
}

func TestClientAnswersAcksInOrder(t *testing.T) {
	s := &scripted{out: strings.NewReader("Enter Command: %ack%\n\r%ack%\n\r%debug: note%\n\r%success: Attest%\n\r")}
	res, err := host.New(s).Do(context.Background(), "attest", "123456", "0x24")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := s.sent.String(); got != "attest\r123456\r0x24\r" {
		t.Fatalf("sent = %q", got)
	}
	if res.Success != "Attest" || !reflect.DeepEqual(res.Debug, []string{"note"}) {
		t.Fatalf("result = %+v", res)
	}
}

func TestClientTruncatedStream(t *testing.T) {
	s := &scripted{out: strings.NewReader("%info: P>0x00001001%\n\r")}
	_, err := host.New(s).Do(context.Background(), "list")
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}
