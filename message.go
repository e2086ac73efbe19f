package main

const (
	MsgNoOverlay = "No overlay has been produced yet. The first cycle may still be running, or every cycle so far has failed; check the service log."

	MsgFileSource = "Frames are read from SOURCE_PATH, so pushed frames are not accepted. Unset SOURCE_PATH to feed frames over HTTP."

	MsgFrameAccepted = "Frame queued for the next cycle."

	MsgFrameReplaced = "Frame queued for the next cycle, replacing one that had not been processed yet."
)
