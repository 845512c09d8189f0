package types

import (
	"fmt"
	"math"
)

// Band groups adjacent layers by domain.
type Band int

const (
	BandPerception  Band = iota // L0-L4
	BandProcessing              // L5-L7
	BandInteraction             // L8-LA
	BandEmergence               // LB-LC
	BandMeta                    // LD-LF
)

var bandSpans = [...][2]int{{0x0, 0x4}, {0x5, 0x7}, {0x8, 0xA}, {0xB, 0xC}, {0xD, 0xF}}

var bandNames = [...]string{"Perception", "Processing", "Interaction", "Emergence", "Meta"}

// Bands lists all bands in layer order.
func Bands() []Band {
	return []Band{BandPerception, BandProcessing, BandInteraction, BandEmergence, BandMeta}
}

// Span returns the first and last layer index of the band.
func (b Band) Span() (int, int) { return bandSpans[b][0], bandSpans[b][1] }

func (b Band) String() string {
	if b < 0 || int(b) >= len(bandNames) {
		return fmt.Sprintf("Band(%d)", int(b))
	}
	return bandNames[b]
}

// BandOf returns the band of layer i (taken modulo 16).
func BandOf(i int) Band {
	i &= 0x0F
	for b, span := range bandSpans {
		if i <= span[1] {
			return Band(b)
		}
	}
	return BandMeta
}

// rhoScale selects how a layer reads its magnitude.
type rhoScale int

const (
	scaleExp      rhoScale = iota // e^rho
	scaleDecibel                  // rho * 6 dB
	scaleUnit                     // (rho+8)/15
	scaleBranches                 // 2^max(rho,0)
)

// LayerInfo describes what a layer's fields mean.
type LayerInfo struct {
	Name   string
	Unit   string
	Theta  [16]string
	scale  rhoScale
	format string
}

var layerInfo = [NumLayers]LayerInfo{
	{Name: "Photonic", Unit: "Hue", format: "%.2f lux", Theta: [16]string{
		"Red", "RedOrange", "Orange", "YellowOrange", "Yellow", "YellowGreen", "Green", "BlueGreen",
		"Cyan", "BlueCyan", "Blue", "BlueViolet", "Violet", "Magenta", "RedMagenta", "Pink"}},
	{Name: "Acoustic", Unit: "FrequencyClass", scale: scaleDecibel, format: "%.1f dB", Theta: [16]string{
		"SubBass", "Bass", "LowMid", "Mid", "UpperMid", "Presence", "Brilliance", "HighBrilliance",
		"Air", "UltraHigh", "Infrasound", "Ultrasound", "Noise", "Click", "Tone", "Complex"}},
	{Name: "Olfactory", Unit: "ChemicalClass", format: "%.2f ppm", Theta: [16]string{
		"Floral", "Fruity", "Citrus", "Green", "Woody", "Spicy", "Sulfurous", "Earthy",
		"Smoky", "Metallic", "Chemical", "Putrid", "Musky", "Minty", "Sweet", "Neutral"}},
	{Name: "Gustatory", Unit: "TasteMode", format: "taste=%.2f", Theta: [16]string{
		"Sweet", "SweetMild", "SweetIntense", "Salty", "SaltyMild", "Sour", "SourMild", "SourIntense",
		"Bitter", "BitterMild", "Umami", "UmamiIntense", "Astringent", "Pungent", "Cooling", "Neutral"}},
	{Name: "Dermic", Unit: "TouchMode", format: "touch=%.2f", Theta: [16]string{
		"Pressure", "PressureLight", "PressureHeavy", "Vibration", "VibrationFine", "VibrationCoarse", "Temperature", "Cold",
		"Hot", "Pain", "PainSharp", "PainDull", "Proprioception", "Position", "Movement", "Neutral"}},
	{Name: "Electronic", Unit: "OperationMode", format: "%.2f FLOPS", Theta: [16]string{
		"Idle", "IdleLowPower", "Sensing", "SensingActive", "Processing", "ProcessingBatch", "Inference", "InferenceStream",
		"Training", "TrainingDistributed", "Compression", "Decompression", "Communication", "CommunicationSecure", "Critical", "Emergency"}},
	{Name: "Psychomotor", Unit: "MotorPrimitive", format: "%.2f N", Theta: [16]string{
		"Idle", "IdleReady", "Reach", "ReachExtend", "Grasp", "GraspPinch", "Manipulate", "ManipulateRotate",
		"Release", "ReleaseGentle", "Locomote", "LocomoteFast", "Orient", "OrientPrecise", "Emergency", "EmergencyStop"}},
	{Name: "Environmental", Unit: "ContextType", scale: scaleUnit, format: "%.3f conf", Theta: [16]string{
		"Unknown", "UnknownDangerous", "Indoor", "IndoorResidential", "Outdoor", "OutdoorUrban", "Transit", "TransitVehicle",
		"Social", "SocialCrowded", "Work", "WorkIndustrial", "Rest", "RestSleep", "Emergency", "EmergencyCritical"}},
	{Name: "Cybernetic", Unit: "ControlMode", format: "err=%.3f", Theta: [16]string{
		"Equilibrium", "EquilibriumStable", "Correcting", "CorrectingFast", "Adapting", "AdaptingSlow", "Learning", "LearningDeep",
		"Exploring", "ExploringRandom", "Competing", "CompetingAggressive", "Cooperating", "CooperatingAltruistic", "Emergency", "EmergencyShutdown"}},
	{Name: "Geopolitical", Unit: "GovernanceMode", format: "sov=%.2f", Theta: [16]string{
		"Autonomous", "AutonomousSovereign", "Federated", "FederatedLoose", "Allied", "AlliedStrong", "Neutral", "NeutralArmed",
		"Disputed", "DisputedActive", "Occupied", "OccupiedResisting", "Transitional", "TransitionalDemocratic", "Collapsed", "CollapsedAnarchy"}},
	{Name: "Cosmopolitical", Unit: "EthicalMode", format: "scope=%.2f", Theta: [16]string{
		"Deontological", "DeontologicalStrict", "Consequentialist", "ConsequentialistRule", "Virtue", "VirtueAncient", "Contractual", "ContractualSocial",
		"Care", "CareRelational", "Ubuntu", "UbuntuCommunal", "Gaian", "GaianDeep", "Cosmic", "CosmicUniversal"}},
	{Name: "Synergic", Unit: "OrgType", format: "emerge=%.2f", Theta: [16]string{
		"Crystalline", "CrystallineSymmetric", "Dissipative", "DissipativeOscillating", "Autopoietic", "AutopoieticClosed", "Swarm", "SwarmDistributed",
		"Network", "NetworkScaleFree", "Evolutionary", "EvolutionaryDarwinian", "Cognitive", "CognitiveConscious", "Transcendent", "TranscendentSingular"}},
	{Name: "Quantum", Unit: "QuantumRegime", scale: scaleUnit, format: "coh=%.3f", Theta: [16]string{
		"Classical", "ClassicalLimit", "Semiclassical", "SemiclassicalWKB", "Coherent", "CoherentGlauber", "Superposed", "SuperposedCat",
		"Entangled", "EntangledBell", "Tunneling", "TunnelingResonant", "Interfering", "InterferingMach", "Collapsed", "CollapsedMeasured"}},
	{Name: "Superposition", Unit: "SuperStrategy", scale: scaleBranches, format: "%.0f branches", Theta: [16]string{
		"Collapsed", "CollapsedFinal", "Binary", "BinarySymmetric", "Ternary", "TernaryBalanced", "Quaternary", "QuaternaryQubit",
		"Exponential", "ExponentialGrowth", "Continuous", "ContinuousSmooth", "Hierarchical", "HierarchicalTree", "Infinite", "InfiniteCountable"}},
	{Name: "Entanglement", Unit: "CorrelationType", scale: scaleUnit, format: "entangle=%.3f", Theta: [16]string{
		"Separable", "SeparableProduct", "Classical", "ClassicalCorrelated", "Discord", "DiscordQuantum", "Bipartite", "BipartiteMaximal",
		"Multipartite", "MultipartiteGenuine", "GHZ", "GHZState", "WState", "WStateBalanced", "Cluster", "ClusterGraph"}},
	{Name: "Collapse", Unit: "CollapseType", format: "entropy=%.2f", Theta: [16]string{
		"Null", "NullVoid", "SoftReset", "SoftResetPartial", "HardReset", "HardResetFull", "Measurement", "MeasurementStrong",
		"Observation", "ObservationWeak", "Termination", "TerminationGraceful", "Death", "DeathPermanent", "EOF", "EOFCycle"}},
}

// Layer returns the description of layer i (taken modulo 16).
func Layer(i int) LayerInfo { return layerInfo[i&0x0F] }

// RhoValue converts rho to the layer's physical reading.
func (li LayerInfo) RhoValue(rho int8) float64 {
	switch li.scale {
	case scaleDecibel:
		return float64(rho) * 6
	case scaleUnit:
		return (float64(rho) + 8) / 15
	case scaleBranches:
		return float64(uint32(1) << max(rho, 0))
	default:
		return math.Exp(float64(rho))
	}
}

// Interpretation is the domain reading of one layer value.
type Interpretation struct {
	Layer int
	Name  string
	Value float64
	Label string
	Text  string
}

func (in Interpretation) String() string {
	return fmt.Sprintf("L%X %s: %s, %s", in.Layer, in.Name, in.Text, in.Label)
}

// Interpret reads v in the context of layer i.
func Interpret(i int, v ByteSil) Interpretation {
	li := Layer(i)
	val := li.RhoValue(v.Rho)
	return Interpretation{
		Layer: i & 0x0F,
		Name:  li.Name,
		Value: val,
		Label: li.Theta[v.Theta&0x0F],
		Text:  fmt.Sprintf(li.format, val),
	}
}

// Signal is the control decision read from the Meta band.
type Signal int

const (
	SignalContinue Signal = iota
	SignalFork
	SignalSync
	SignalCollapse
)

func (s Signal) String() string {
	switch s {
	case SignalFork:
		return "fork"
	case SignalSync:
		return "sync"
	case SignalCollapse:
		return "collapse"
	}
	return "continue"
}

// Meta thresholds on Norm().
const (
	ForkThreshold     = 12
	SyncThreshold     = 12
	CollapseThreshold = 2
)

// MetaSignal reads the Meta band. Collapse wins over sync, sync over fork.
func (s State) MetaSignal() Signal {
	ld, le, lf := s[LayerSuperposition], s[LayerEntanglement], s[LayerCollapse]
	switch {
	case lf.IsNull() || lf.Norm() < CollapseThreshold:
		return SignalCollapse
	case le.Norm() > SyncThreshold:
		return SignalSync
	case ld.Norm() > ForkThreshold:
		return SignalFork
	}
	return SignalContinue
}

// Fork returns four copies of s whose superposition phase is spread by pi/2.
func (s State) Fork() [4]State {
	var out [4]State
	ld := s[LayerSuperposition]
	for i := range out {
		out[i] = s.WithLayer(LayerSuperposition, ld.Rotate(i*4))
	}
	return out
}
