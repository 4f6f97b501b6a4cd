package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/osdi23p228/azhlf/pkg/infra"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app        = kingpin.New("azhlf", "Administer a Hyperledger Fabric network: chaincodes, channels, consortium and identities")
	configFile = app.Flag("config", "Path of config file").Short('c').Envar("AZHLF_CONFIG").String()

	version = app.Command("version", "Show version information")

	chaincode = app.Command("chaincode", "Chaincode operations")

	ccInstall        = chaincode.Command("install", "Install a Go chaincode on every peer of the organization")
	ccInstallName    = ccInstall.Flag("name", "Chaincode identifier").Short('n').Required().String()
	ccInstallVersion = ccInstall.Flag("version", "Chaincode version").Short('v').Required().String()
	ccInstallPath    = ccInstall.Flag("path", "Absolute path to the source code, e.g. /opt/gopath/src/github.com/chaincode").Short('p').Required().String()
	ccInstallLang    = ccInstall.Flag("language", "Chaincode language").Short('l').Default("golang").Enum("golang")
	ccInstallOrg     = ccInstall.Flag("organization", "Organization name which issues request").Short('o').Required().String()
	ccInstallUser    = ccInstall.Flag("userName", "User name who issues request").Short('u').Required().String()

	ccInstantiate            = chaincode.Command("instantiate", "Instantiate an installed chaincode on a channel")
	ccInstantiateChannel     = ccInstantiate.Flag("channel", "Channel name").Short('C').Required().String()
	ccInstantiateName        = ccInstantiate.Flag("name", "Chaincode identifier").Short('n').Required().String()
	ccInstantiateVersion     = ccInstantiate.Flag("version", "Chaincode version").Short('v').Required().String()
	ccInstantiateFunc        = ccInstantiate.Flag("func", "Function to be invoked").Short('f').String()
	ccInstantiateArgs        = ccInstantiate.Flag("args", "Arguments").Short('a').Strings()
	ccInstantiateOrg         = ccInstantiate.Flag("organization", "Organization name which issues request").Short('o').Required().String()
	ccInstantiateUser        = ccInstantiate.Flag("userName", "User name who issues request").Short('u').Required().String()
	ccInstantiateCollections = ccInstantiate.Flag("collections-config", "Absolute path to the collections config file").String()
	ccInstantiateTransient   = ccInstantiate.Flag("transient", "Transient (private) data to be sent, as JSON").Short('t').String()
	ccInstantiatePolicy      = ccInstantiate.Flag("policy-config", "Absolute path to the endorsement policy file").String()

	ccInvoke          = chaincode.Command("invoke", "Invoke a chaincode and wait for every peer to commit")
	ccInvokeChannel   = ccInvoke.Flag("channel", "Channel name").Short('C').Required().String()
	ccInvokeName      = ccInvoke.Flag("name", "Chaincode identifier").Short('n').Required().String()
	ccInvokeFunc      = ccInvoke.Flag("func", "Function to be invoked").Short('f').Required().String()
	ccInvokeArgs      = ccInvoke.Flag("args", "Function arguments").Short('a').Strings()
	ccInvokeTransient = ccInvoke.Flag("transient", "Transient (private) data to be sent, as JSON").Short('t').String()
	ccInvokeOrg       = ccInvoke.Flag("organization", "Organization name which issues request").Short('o').Required().String()
	ccInvokeUser      = ccInvoke.Flag("userName", "User name who issues request").Short('u').Required().String()

	ccQuery        = chaincode.Command("query", "Query a chaincode on the given peers")
	ccQueryChannel = ccQuery.Flag("channel", "Channel name").Short('C').Required().String()
	ccQueryPeers   = ccQuery.Flag("endorsingPeers", "Endorsing peer(s)").Short('p').Required().Strings()
	ccQueryName    = ccQuery.Flag("name", "Chaincode identifier").Short('n').Required().String()
	ccQueryFunc    = ccQuery.Flag("func", "Function to be invoked").Short('f').Required().String()
	ccQueryArgs    = ccQuery.Flag("args", "Function arguments").Short('a').Strings()
	ccQueryOrg     = ccQuery.Flag("organization", "Organization name which issues request").Short('o').Required().String()
	ccQueryUser    = ccQuery.Flag("userName", "User name who issues request").Short('u').Required().String()

	channel = app.Command("channel", "Channel operations")

	chCreate        = channel.Command("create", "Create an application channel with the organization as its member")
	chCreateChannel = chCreate.Flag("channelName", "Channel name").Short('C').Required().String()
	chCreateOrg     = chCreate.Flag("organization", "Organization name which issues request").Short('o').Required().String()
	chCreateUser    = chCreate.Flag("userName", "User name who issues request").Short('u').Required().String()

	chJoin           = channel.Command("join", "Join every peer of the organization to a channel")
	chJoinChannel    = chJoin.Flag("channelName", "Channel name").Short('C').Required().String()
	chJoinOrg        = chJoin.Flag("organization", "Organization name which issues request").Short('o').Required().String()
	chJoinUser       = chJoin.Flag("userName", "User name who issues request").Short('u').Required().String()
	chJoinOrdererOrg = chJoin.Flag("ordererOrg", "The orderer organization").Required().String()

	chAddOrg           = channel.Command("joinOrg", "Add a peer organization to a channel")
	chAddOrgChannel    = chAddOrg.Flag("channelName", "Channel name").Short('C').Required().String()
	chAddOrgOrg        = chAddOrg.Flag("organization", "Organization name which issues request").Short('o').Required().String()
	chAddOrgUser       = chAddOrg.Flag("userName", "User name who issues request").Short('u').Required().String()
	chAddOrgPeerOrg    = chAddOrg.Flag("peerOrg", "Peer organization to be added to channel").Short('p').Required().String()
	chAddOrgOrdererOrg = chAddOrg.Flag("ordererOrg", "The orderer organization").String()

	chAnchors           = channel.Command("setAnchorPeers", "Set the anchor peers of the organization on a channel")
	chAnchorsChannel    = chAnchors.Flag("channelName", "Channel name").Short('C').Required().String()
	chAnchorsPeers      = chAnchors.Flag("peer", "Peer node(s), an empty value clears the list").Short('p').Required().Strings()
	chAnchorsOrg        = chAnchors.Flag("organization", "Organization name which issues request").Short('o').Required().String()
	chAnchorsUser       = chAnchors.Flag("userName", "User name who issues request").Short('u').Required().String()
	chAnchorsOrdererOrg = chAnchors.Flag("ordererOrg", "The orderer organization").String()

	chPrint        = channel.Command("print", "Print the channel configuration")
	chPrintChannel = chPrint.Flag("channelName", "Channel name").Short('C').Required().String()
	chPrintOrg     = chPrint.Flag("organization", "Organization name which issues request").Short('o').Required().String()
	chPrintUser    = chPrint.Flag("userName", "The name of user who issues the request").Short('u').Required().String()

	consortium = app.Command("consortium", "Consortium operations")

	csJoin           = consortium.Command("join", "Add a peer organization to the consortium")
	csJoinOrg        = csJoin.Flag("organization", "Orderer organization").Short('o').Required().String()
	csJoinUser       = csJoin.Flag("userName", "The name of user who issues the request").Short('u').Required().String()
	csJoinPeerOrg    = csJoin.Flag("peerOrg", "Peer organization to be added to consortium").Short('p').Required().String()
	csJoinOrdererOrg = csJoin.Flag("ordererOrg", "The orderer organization").String()

	msp = app.Command("msp", "MSP store")

	mspImport        = msp.Command("import", "Import the MSP of an organization from files")
	mspImportOrg     = mspImport.Flag("organization", "The organization name").Short('o').Required().String()
	mspImportAdmin   = mspImport.Flag("admin", "The path to the admin certificate file").Short('a').Required().ExistingFile()
	mspImportRoot    = mspImport.Flag("root", "The path to the CA root certificate file").Short('r').Required().ExistingFile()
	mspImportTLSRoot = mspImport.Flag("tlsroot", "The path to the TLS CA root certificate file").Short('t').Required().ExistingFile()

	mspList = msp.Command("list", "List imported MSPs")

	profile = app.Command("profile", "Connection profile store")

	profileImport     = profile.Command("import", "Import a connection profile from a gateway file")
	profileImportOrg  = profileImport.Flag("organization", "The organization").Short('o').Required().String()
	profileImportFile = profileImport.Flag("profile", "The path to the profile").Short('f').Required().ExistingFile()

	profileList = profile.Command("list", "List imported connection profiles")

	user = app.Command("user", "User wallets")

	userImport        = user.Command("import", "Import a user identity from files")
	userImportOrg     = userImport.Flag("organization", "The organization name").Short('o').Required().String()
	userImportUser    = userImport.Flag("user", "The user name").Short('u').Required().String()
	userImportCert    = userImport.Flag("certPath", "Path to the identity certificate file").Required().ExistingFile()
	userImportKey     = userImport.Flag("keyPath", "Path to the identity private key file").Required().ExistingFile()
	userImportTLSCert = userImport.Flag("tlsCertPath", "Path to the tls certificate file").ExistingFile()
	userImportTLSKey  = userImport.Flag("tlsKeyPath", "Path to the tls private key file").ExistingFile()

	userList = user.Command("list", "List imported users")
)

func setLogLevel(logger *log.Logger) {
	logger.SetLevel(log.InfoLevel)
	if value, ok := os.LookupEnv("AZHLF_LOGLEVEL"); ok {
		if level, err := log.ParseLevel(value); err == nil {
			logger.SetLevel(level)
		}
	}
}

func getLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	setLogLevel(logger)
	return logger
}

// nonEmpty drops blank entries so that --peer "" clears the anchor peers.
func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func run(ctx context.Context, fullCmd string, logger *log.Logger) error {
	if fullCmd == version.FullCommand() {
		fmt.Print(infra.GetVersionInfo())
		return nil
	}

	config, err := infra.LoadConfigFromFile(*configFile)
	if err != nil {
		return err
	}
	p := infra.NewProcessor(config, logger, os.Stdout)

	switch fullCmd {
	case ccInstall.FullCommand():
		return p.InstallChaincode(ctx, infra.Caller{Org: *ccInstallOrg, User: *ccInstallUser}, infra.ChaincodeArgs{
			Name:    *ccInstallName,
			Version: *ccInstallVersion,
			Path:    *ccInstallPath,
		})
	case ccInstantiate.FullCommand():
		return p.InstantiateChaincode(ctx, infra.Caller{Org: *ccInstantiateOrg, User: *ccInstantiateUser}, infra.ChaincodeArgs{
			Channel:         *ccInstantiateChannel,
			Name:            *ccInstantiateName,
			Version:         *ccInstantiateVersion,
			Function:        *ccInstantiateFunc,
			Args:            *ccInstantiateArgs,
			Transient:       *ccInstantiateTransient,
			CollectionsFile: *ccInstantiateCollections,
			PolicyFile:      *ccInstantiatePolicy,
		})
	case ccInvoke.FullCommand():
		return p.InvokeChaincode(ctx, infra.Caller{Org: *ccInvokeOrg, User: *ccInvokeUser}, infra.ChaincodeArgs{
			Channel:   *ccInvokeChannel,
			Name:      *ccInvokeName,
			Function:  *ccInvokeFunc,
			Args:      *ccInvokeArgs,
			Transient: *ccInvokeTransient,
		})
	case ccQuery.FullCommand():
		return p.QueryChaincode(ctx, infra.Caller{Org: *ccQueryOrg, User: *ccQueryUser}, infra.ChaincodeArgs{
			Channel:        *ccQueryChannel,
			Name:           *ccQueryName,
			Function:       *ccQueryFunc,
			Args:           *ccQueryArgs,
			EndorsingPeers: *ccQueryPeers,
		})

	case chCreate.FullCommand():
		return p.CreateChannel(ctx, infra.Caller{Org: *chCreateOrg, User: *chCreateUser}, *chCreateChannel)
	case chJoin.FullCommand():
		return p.JoinChannel(ctx, infra.Caller{Org: *chJoinOrg, User: *chJoinUser, OrdererOrg: *chJoinOrdererOrg}, *chJoinChannel)
	case chAddOrg.FullCommand():
		return p.JoinOrgToChannel(ctx, infra.Caller{Org: *chAddOrgOrg, User: *chAddOrgUser, OrdererOrg: *chAddOrgOrdererOrg}, *chAddOrgChannel, *chAddOrgPeerOrg)
	case chAnchors.FullCommand():
		return p.SetAnchorPeers(ctx, infra.Caller{Org: *chAnchorsOrg, User: *chAnchorsUser, OrdererOrg: *chAnchorsOrdererOrg}, *chAnchorsChannel, nonEmpty(*chAnchorsPeers))
	case chPrint.FullCommand():
		return p.PrintChannel(ctx, infra.Caller{Org: *chPrintOrg, User: *chPrintUser}, *chPrintChannel)

	case csJoin.FullCommand():
		return p.JoinConsortium(ctx, infra.Caller{Org: *csJoinOrg, User: *csJoinUser, OrdererOrg: *csJoinOrdererOrg}, *csJoinPeerOrg)

	case mspImport.FullCommand():
		return p.ImportMSP(*mspImportOrg, *mspImportAdmin, *mspImportRoot, *mspImportTLSRoot)
	case mspList.FullCommand():
		return p.ListMSPs()
	case profileImport.FullCommand():
		return p.ImportProfile(*profileImportOrg, *profileImportFile)
	case profileList.FullCommand():
		return p.ListProfiles()
	case userImport.FullCommand():
		return p.ImportUser(*userImportOrg, *userImportUser, *userImportCert, *userImportKey, *userImportTLSCert, *userImportTLSKey)
	case userList.FullCommand():
		return p.ListUsers()
	}

	return errors.Errorf("Invalid command: %s", fullCmd)
}

func main() {
	logger := getLogger()

	fullCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, fullCmd, logger)
	stop()

	if err != nil {
		logger.Errorln(err)
		os.Exit(1)
	}
	os.Exit(0)
}
