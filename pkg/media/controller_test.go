package media

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/arzzra/call_engine/pkg/rtc"
	"github.com/arzzra/call_engine/pkg/rtc/mockrtc"
)

type ControllerSuite struct {
	suite.Suite
	platform *mockrtc.Platform
	ctrl     *Controller
}

func (s *ControllerSuite) SetupTest() {
	s.platform = mockrtc.New()
	s.ctrl = NewController(s.platform, Options{})
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) TestAcquireAudio() {
	stream, err := s.ctrl.Acquire(context.Background(), rtc.CallAudio)
	s.Require().NoError(err)
	s.NotNil(stream.Audio)
	s.Nil(stream.Video)
	s.Len(stream.Tracks(), 1)
	s.False(stream.VideoEnabled)
}

func (s *ControllerSuite) TestAcquireSameKindReuses() {
	first, err := s.ctrl.Acquire(context.Background(), rtc.CallVideo)
	s.Require().NoError(err)
	second, err := s.ctrl.Acquire(context.Background(), rtc.CallVideo)
	s.Require().NoError(err)

	s.Equal(first.Audio.ID(), second.Audio.ID())
	s.Equal(first.Video.ID(), second.Video.ID())
	s.Equal(1, s.platform.UserMediaCalls())
}

func (s *ControllerSuite) TestAcquireOtherKindReleasesFirst() {
	video, err := s.ctrl.Acquire(context.Background(), rtc.CallVideo)
	s.Require().NoError(err)
	audio, err := s.ctrl.Acquire(context.Background(), rtc.CallAudio)
	s.Require().NoError(err)

	s.True(video.Audio.Ended())
	s.True(video.Video.Ended())
	s.False(audio.Audio.Ended())
	s.Equal(2, s.platform.UserMediaCalls())
}

func (s *ControllerSuite) TestAcquireErrorsAreClassified() {
	cases := []struct {
		platformErr error
		code        DeviceErrorCode
	}{
		{fmt.Errorf("prompt dismissed: %w", rtc.ErrPermissionDenied), ErrorCodePermissionDenied},
		{rtc.ErrDeviceNotFound, ErrorCodeNotFound},
		{fmt.Errorf("busy: %w", rtc.ErrDeviceInUse), ErrorCodeInUse},
		{errors.New("something odd"), ErrorCodeNotFound},
	}
	for _, tc := range cases {
		s.platform.FailUserMedia(tc.platformErr)
		_, err := s.ctrl.Acquire(context.Background(), rtc.CallVideo)
		s.Require().Error(err)

		var de *DeviceError
		s.Require().True(errors.As(err, &de))
		s.Equal(tc.code, de.Code)
		s.True(HasErrorCode(err, tc.code))
		s.ErrorIs(err, &DeviceError{Code: tc.code})
	}
	_, held := s.ctrl.Stream()
	s.False(held)
}

func (s *ControllerSuite) TestToggleMuteTwiceRestores() {
	stream, err := s.ctrl.Acquire(context.Background(), rtc.CallAudio)
	s.Require().NoError(err)

	muted, err := s.ctrl.ToggleMute()
	s.Require().NoError(err)
	s.True(muted)
	s.False(stream.Audio.Enabled())

	muted, err = s.ctrl.ToggleMute()
	s.Require().NoError(err)
	s.False(muted)
	s.True(stream.Audio.Enabled())
}

func (s *ControllerSuite) TestToggleVideo() {
	_, err := s.ctrl.ToggleVideo()
	s.ErrorIs(err, ErrNotAcquired)

	_, err = s.ctrl.Acquire(context.Background(), rtc.CallAudio)
	s.Require().NoError(err)
	_, err = s.ctrl.ToggleVideo()
	s.ErrorIs(err, ErrNoVideo)

	stream, err := s.ctrl.Acquire(context.Background(), rtc.CallVideo)
	s.Require().NoError(err)
	enabled, err := s.ctrl.ToggleVideo()
	s.Require().NoError(err)
	s.False(enabled)
	s.False(stream.Video.Enabled())
}

func (s *ControllerSuite) TestScreenShareRestoresCamera() {
	stream, err := s.ctrl.Acquire(context.Background(), rtc.CallVideo)
	s.Require().NoError(err)
	camera := stream.Video

	screen, err := s.ctrl.StartScreenShare(context.Background())
	s.Require().NoError(err)
	s.Equal(rtc.SourceScreen, screen.Source())

	current, _ := s.ctrl.Stream()
	s.True(current.ScreenSharing)
	s.Equal(screen.ID(), current.Video.ID())
	s.False(camera.Ended())

	restored, err := s.ctrl.StopScreenShare(context.Background())
	s.Require().NoError(err)
	s.Equal(camera.ID(), restored.ID())
	s.True(screen.Ended())

	current, _ = s.ctrl.Stream()
	s.False(current.ScreenSharing)
	s.Equal(camera.ID(), current.Video.ID())
}

func (s *ControllerSuite) TestScreenShareReacquiresStoppedCamera() {
	stream, err := s.ctrl.Acquire(context.Background(), rtc.CallVideo)
	s.Require().NoError(err)
	_, err = s.ctrl.StartScreenShare(context.Background())
	s.Require().NoError(err)

	s.Require().NoError(stream.Video.Stop())

	restored, err := s.ctrl.StopScreenShare(context.Background())
	s.Require().NoError(err)
	s.NotEqual(stream.Video.ID(), restored.ID())
	s.Equal(rtc.SourceCamera, restored.Source())
	s.Equal(2, s.platform.UserMediaCalls())
}

func (s *ControllerSuite) TestScreenEndedBySource() {
	_, err := s.ctrl.Acquire(context.Background(), rtc.CallVideo)
	s.Require().NoError(err)

	ended := make(chan struct{}, 1)
	s.ctrl.OnScreenShareEnded(func() { ended <- struct{}{} })

	screen, err := s.ctrl.StartScreenShare(context.Background())
	s.Require().NoError(err)
	screen.(*mockrtc.Track).End()

	select {
	case <-ended:
	case <-time.After(time.Second):
		s.Fail("screen ended callback was not called")
	}
}

func (s *ControllerSuite) TestScreenShareRequiresVideoCall() {
	_, err := s.ctrl.Acquire(context.Background(), rtc.CallAudio)
	s.Require().NoError(err)
	_, err = s.ctrl.StartScreenShare(context.Background())
	s.ErrorIs(err, ErrNoVideo)
	s.Equal(0, s.platform.DisplayMediaCalls())
}

func (s *ControllerSuite) TestReleaseIsIdempotent() {
	stream, err := s.ctrl.Acquire(context.Background(), rtc.CallVideo)
	s.Require().NoError(err)

	s.ctrl.Release()
	s.ctrl.Release()

	for _, tr := range s.platform.Tracks() {
		s.Equal(1, tr.StopCount(), tr.ID())
	}
	s.True(stream.Audio.Ended())
	_, held := s.ctrl.Stream()
	s.False(held)
}

func TestAcquireCompletingAfterReleaseIsDiscarded(t *testing.T) {
	platform := mockrtc.New()
	ctrl := NewController(platform, Options{})
	release := platform.HoldUserMedia()

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Acquire(context.Background(), rtc.CallVideo)
		done <- err
	}()

	require.Eventually(t, func() bool { return platform.UserMediaCalls() == 1 }, time.Second, time.Millisecond)
	ctrl.Release()
	release()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAcquireCancelled)
	case <-time.After(time.Second):
		t.Fatal("acquire did not return")
	}

	tracks := platform.Tracks()
	require.Len(t, tracks, 2)
	for _, tr := range tracks {
		assert.True(t, tr.Ended())
	}
	_, held := ctrl.Stream()
	assert.False(t, held)
}

func TestAcquireCompletingAfterCancelIsDiscarded(t *testing.T) {
	platform := mockrtc.New()
	ctrl := NewController(platform, Options{})
	release := platform.HoldUserMedia()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Acquire(ctx, rtc.CallAudio)
		done <- err
	}()

	require.Eventually(t, func() bool { return platform.UserMediaCalls() == 1 }, time.Second, time.Millisecond)
	cancel()
	release()

	err := <-done
	assert.ErrorIs(t, err, ErrAcquireCancelled)
	for _, tr := range platform.Tracks() {
		assert.True(t, tr.Ended())
	}
}

func TestGetErrorSuggestion(t *testing.T) {
	assert.Contains(t, GetErrorSuggestion(ErrPermissionDenied), "Разрешите")
	assert.Contains(t, GetErrorSuggestion(errors.New("x")), "логи")
}
