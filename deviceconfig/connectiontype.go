package deviceconfig

// Family identifies a device product line; it selects, together with
// Encryption and HTTPS, the protocol/transport pair.
type Family string

const (
	FamilyIOTSmartPlugSwitch Family = "IOT.SMARTPLUGSWITCH"
	FamilyIOTSmartBulb       Family = "IOT.SMARTBULB"
	FamilyIOTIPCamera        Family = "IOT.IPCAMERA"

	FamilySmartKasaPlug     Family = "SMART.KASAPLUG"
	FamilySmartKasaBulb     Family = "SMART.KASABULB"
	FamilySmartKasaSwitch   Family = "SMART.KASASWITCH"
	FamilySmartTapoPlug     Family = "SMART.TAPOPLUG"
	FamilySmartTapoBulb     Family = "SMART.TAPOBULB"
	FamilySmartTapoSwitch   Family = "SMART.TAPOSWITCH"
	FamilySmartTapoHub      Family = "SMART.TAPOHUB"
	FamilySmartIPCamera     Family = "SMART.IPCAMERA"
	FamilySmartTapoDoorbell Family = "SMART.TAPODOORBELL"
	FamilySmartTapoRobovac  Family = "SMART.TAPOROBOVAC"
	FamilySmartTapoChime    Family = "SMART.TAPOCHIME"

	FamilyUnknown Family = ""
)

// Encryption is the session-establishment scheme a device speaks.
type Encryption string

const (
	EncryptionXOR  Encryption = "XOR"
	EncryptionAES  Encryption = "AES"
	EncryptionKLAP Encryption = "KLAP"
)

// LoginVersion selects the AES-passthrough credential-hashing scheme.
// LoginVersionUnset means a device that has never handshaked and
// doesn't know its login version yet.
type LoginVersion int

const (
	LoginVersionUnset LoginVersion = 0
	LoginVersion1     LoginVersion = 1
	LoginVersion2     LoginVersion = 2
)

// ConnectionType is the tuple that selects the protocol×transport pair.
type ConnectionType struct {
	DeviceFamily Family
	Encryption   Encryption
	LoginVersion LoginVersion
	HTTPS        bool
	HTTPPort     int
}
