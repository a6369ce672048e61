package ahrsweb

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"time"

	"github.com/foshlabs/OrientationFilter/ahrs"
	"github.com/foshlabs/OrientationFilter/sim"
	"github.com/gorilla/websocket"
)

// MadgwickListener publishes the output of a Madgwick filter to an ahrsweb room.
type MadgwickListener struct {
	data   *AHRSData
	c      *websocket.Conn
	logMap map[string]interface{}
}

// NewMadgwickListener connects to the room served at ws://addr/ahrsweb.
func NewMadgwickListener(addr string) (ml *MadgwickListener, err error) {
	ml = &MadgwickListener{logMap: make(map[string]interface{})}
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ahrsweb"}
	if ml.c, _, err = websocket.DefaultDialer.Dial(u.String(), nil); err != nil {
		return nil, fmt.Errorf("ahrsweb: dial %s: %w", u.String(), err)
	}
	return ml, nil
}

// Attach registers the listener's log map with the filter so that Send
// reports the filter's latest update.
func (ml *MadgwickListener) Attach(s *ahrs.MadgwickState) {
	s.SetLogMap(ml.logMap)
}

// Send publishes the filter output, along with the true attitude in radians
// when truth is non-nil.
func (ml *MadgwickListener) Send(truth *[3]float64) error {
	ml.data = NewAHRSData(ml.logMap)
	if truth != nil {
		r, p, h := ahrs.Regularize(truth[0], truth[1], truth[2])
		ml.data.TrueRoll, ml.data.TruePitch, ml.data.TrueHeading = r/ahrs.Deg, p/ahrs.Deg, h/ahrs.Deg
	}
	msg, err := json.Marshal(ml.data)
	if err != nil {
		return fmt.Errorf("ahrsweb: marshal: %w", err)
	}
	if err := ml.c.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("ahrsweb: write: %w", err)
	}
	return nil
}

// GetData returns the last data sent.
func (ml *MadgwickListener) GetData() *AHRSData {
	return ml.data
}

// Stream feeds the filter from sit in real time, one sample every filter tick,
// and publishes every nth tick. The situation restarts when it runs out.
// Stream returns nil when ctx is cancelled.
func (ml *MadgwickListener) Stream(ctx context.Context, s *ahrs.MadgwickState, sit *sim.Situation,
	ss *sim.Sensors, rng *rand.Rand, every int) error {
	if every < 1 {
		every = 1
	}
	ml.Attach(s)

	dt := s.DeltaT()
	ticker := time.NewTicker(time.Duration(dt * float64(time.Second)))
	defer ticker.Stop()

	t := sit.BeginTime()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if t > sit.EndTime() {
			t = sit.BeginTime()
		}
		m, err := sit.Sample(t, ss, rng)
		if err != nil {
			return err
		}
		t += dt

		if err := s.Compute(m); err != nil {
			log.Printf("AHRSWeb: sample at %f rejected: %s\n", m.T, err)
			continue
		}
		if i%every != 0 {
			continue
		}
		var truth [3]float64
		if truth[0], truth[1], truth[2], err = sit.Attitude(m.T); err != nil {
			return err
		}
		if err := ml.Send(&truth); err != nil {
			return err
		}
	}
}

// Close tells the room we are leaving and closes the connection.
func (ml *MadgwickListener) Close() error {
	err := ml.c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if cerr := ml.c.Close(); err == nil {
		err = cerr
	}
	return err
}
