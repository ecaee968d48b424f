package touchaction

import "github.com/joehacksalot/badgecore/internal/touch"

func care(state touch.State) ElectrodeMatch {
	return ElectrodeMatch{Care: true, State: state}
}

func atLeast(state touch.State) ElectrodeMatch {
	// The state argument is not used: every atLeast entry matches any
	// state other than Released. An entry written as
	// atLeast(touch.ShortPressed) therefore also matches a plain Touched
	// electrode.
	return ElectrodeMatch{Care: true, Negate: true, State: touch.Released}
}

// TronPatterns is the gesture table for the 12/1/2/4/5/7/8/10/11-o'clock
// electrode layout (spec §4.6).
var TronPatterns = []Pattern{
	{
		Command: DisplayVoltageMeter,
		Electrode: [touch.NumElectrodes]ElectrodeMatch{
			care(touch.Released), care(touch.Released), care(touch.Released),
			care(touch.Released), care(touch.Released), care(touch.Released),
			atLeast(touch.Touched), care(touch.Released), atLeast(touch.Touched),
		},
	},
	{
		Command: EnableBlePairing,
		Electrode: [touch.NumElectrodes]ElectrodeMatch{
			atLeast(touch.Touched), care(touch.Released), care(touch.Released),
			care(touch.Released), care(touch.Released), care(touch.Released),
			atLeast(touch.Touched), care(touch.Released), care(touch.Released),
		},
	},
	{
		Command: DisableBlePairing,
		Electrode: [touch.NumElectrodes]ElectrodeMatch{
			atLeast(touch.Touched), care(touch.Released), care(touch.Released),
			care(touch.Released), care(touch.Released), care(touch.Released),
			care(touch.Released), care(touch.Released), atLeast(touch.Touched),
		},
	},
	{
		Command: NextLedSequence,
		Electrode: [touch.NumElectrodes]ElectrodeMatch{
			care(touch.Released), care(touch.Released), atLeast(touch.Touched),
			care(touch.Released), care(touch.Released), atLeast(touch.Touched),
			care(touch.Released), care(touch.Released), care(touch.Released),
		},
	},
}

// ReactorPatterns is the gesture table for the REACTOR_BADGE variant.
var ReactorPatterns = []Pattern{
	{
		Command: EnableTouch,
		Electrode: [touch.NumElectrodes]ElectrodeMatch{
			care(touch.Released), care(touch.Released), atLeast(touch.ShortPressed),
			atLeast(touch.ShortPressed), care(touch.Released), care(touch.Released),
			atLeast(touch.ShortPressed), atLeast(touch.ShortPressed), care(touch.Released),
		},
	},
	{
		Command: DisplayVoltageMeter,
		Electrode: [touch.NumElectrodes]ElectrodeMatch{
			care(touch.Released), care(touch.Touched), care(touch.Released),
			care(touch.Released), care(touch.Released), care(touch.Released),
			care(touch.Released), care(touch.Released), care(touch.Touched),
		},
	},
	{
		Command: NextLedSequence,
		Electrode: [touch.NumElectrodes]ElectrodeMatch{
			care(touch.Released), care(touch.Released), care(touch.Touched),
			care(touch.Released), care(touch.Released), care(touch.Released),
			care(touch.Released), atLeast(touch.Touched), care(touch.Released),
		},
	},
	{
		Command: PrevLedSequence,
		Electrode: [touch.NumElectrodes]ElectrodeMatch{
			care(touch.Released), care(touch.Released), care(touch.Released),
			care(touch.Touched), care(touch.Released), care(touch.Released),
			atLeast(touch.Touched), care(touch.Released), care(touch.Released),
		},
	},
	{
		Command: EnableBlePairing,
		Electrode: [touch.NumElectrodes]ElectrodeMatch{
			care(touch.Released), care(touch.Released), care(touch.Touched),
			care(touch.Released), care(touch.Released), care(touch.Released),
			atLeast(touch.Touched), care(touch.Released), care(touch.Released),
		},
	},
	{
		Command: DisableBlePairing,
		Electrode: [touch.NumElectrodes]ElectrodeMatch{
			care(touch.Released), care(touch.Released), care(touch.Released),
			care(touch.Touched), care(touch.Released), care(touch.Released),
			atLeast(touch.Touched), care(touch.Released), care(touch.Released),
		},
	},
	{
		Command: ToggleSynthMode,
		Electrode: [touch.NumElectrodes]ElectrodeMatch{
			care(touch.Released), care(touch.Released), care(touch.Touched),
			care(touch.Released), care(touch.Touched), care(touch.Touched),
			atLeast(touch.Touched), care(touch.Released), care(touch.Released),
		},
	},
	{
		Command: NetworkTest,
		Electrode: [touch.NumElectrodes]ElectrodeMatch{
			care(touch.Released), care(touch.Released), care(touch.Released),
			care(touch.Released), care(touch.Touched), care(touch.Touched),
			care(touch.Released), care(touch.Released), care(touch.Released),
		},
	},
}
